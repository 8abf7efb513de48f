// Package dataset reads and writes member datasets as CSV files.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

const ctxCheckEvery = 1024

// CSVRepository loads raw member records from a CSV file with a header row.
type CSVRepository struct {
	path string
	log  logger.Logger
}

// Option applies a configuration option to the CSVRepository.
type Option func(*CSVRepository)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *CSVRepository) {
		if l != nil {
			r.log = l
		}
	}
}

// NewCSVRepository creates a repository reading path.
func NewCSVRepository(path string, opts ...Option) *CSVRepository {
	r := &CSVRepository{path: path, log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadRaw reads every row of the file. Unknown columns are ignored and
// unparsable cells are read as absent; only a missing Member_ID column fails.
func (r *CSVRepository) LoadRaw(ctx context.Context) ([]model.RawMemberRecord, error) {
	start := time.Now()
	f, err := os.Open(r.path)
	if err != nil {
		metrics.RecordErrorByComponent("dataset", "open")
		return nil, fmt.Errorf("%w: %w", ErrLoadDataset, err)
	}
	defer f.Close()

	records, err := Decode(ctx, f)
	if err != nil {
		metrics.RecordErrorByComponent("dataset", "decode")
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadDataset, r.path, err)
	}

	metrics.RecordStageLatency("load", float64(time.Since(start).Microseconds())/1000)
	r.log.Info(ctx, "dataset loaded", logger.String("path", r.path), logger.Int("rows", len(records)))
	return records, nil
}

// Decode reads raw member records from CSV data with a header row.
func Decode(ctx context.Context, src io.Reader) ([]model.RawMemberRecord, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColMemberID)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	if _, ok := idx[ColMemberID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColMemberID)
	}

	var out []model.RawMemberRecord
	for line := 2; ; line++ {
		if line%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c := cells{idx: idx, row: row}
		out = append(out, model.RawMemberRecord{
			MemberID:              c.raw(ColMemberID),
			Name:                  c.text(ColName),
			Age:                   c.number(ColAge),
			Gender:                c.text(ColGender),
			Address:               c.text(ColAddress),
			PhoneNumber:           c.text(ColPhoneNumber),
			MembershipType:        c.text(ColMembershipType),
			JoinDate:              c.date(ColJoinDate),
			LastVisitDate:         c.date(ColLastVisitDate),
			FavoriteExercise:      c.text(ColFavoriteExercise),
			AvgWorkoutDurationMin: c.number(ColAvgDuration),
			AvgCaloriesBurned:     c.number(ColAvgCalories),
			TotalWeightLiftedKg:   c.number(ColTotalWeight),
			VisitsPerMonth:        c.number(ColVisitsPerMonth),
			Churn:                 c.text(ColChurn),
		})
	}
	return out, nil
}

type cells struct {
	idx map[string]int
	row []string
}

func (c cells) raw(col string) string {
	i, ok := c.idx[col]
	if !ok || i >= len(c.row) {
		return ""
	}
	return c.row[i]
}

func (c cells) text(col string) *string {
	v := c.raw(col)
	if _, null := nullTokens[strings.ToLower(strings.TrimSpace(v))]; null {
		return nil
	}
	return &v
}

func (c cells) number(col string) *float64 {
	v := c.text(col)
	if v == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(*v), 64)
	if err != nil {
		return nil
	}
	return &f
}

func (c cells) date(col string) *time.Time {
	v := c.text(col)
	if v == nil {
		return nil
	}
	return model.ParseDate(*v)
}
