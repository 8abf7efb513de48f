package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/okian/churngym/internal/domain/features"
	"github.com/okian/churngym/internal/domain/model"
)

// WriteTable writes t as CSV: the identifier column, the feature columns and,
// for training tables, the target column.
func WriteTable(w io.Writer, t features.Table) error {
	cw := csv.NewWriter(w)

	header := append([]string{features.IDColumn}, t.Columns...)
	if t.Labels != nil {
		header = append(header, features.TargetColumn)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTable, err)
	}

	rec := make([]string, len(header))
	for i, row := range t.Rows {
		rec[0] = t.IDs[i]
		for j, v := range row {
			rec[j+1] = formatCell(v)
		}
		if t.Labels != nil {
			rec[len(rec)-1] = strconv.Itoa(t.Labels[i])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("%w: row %d: %w", ErrWriteTable, i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTable, err)
	}
	return nil
}

// WriteImportances writes a feature,importance CSV in the given order.
func WriteImportances(w io.Writer, importances []model.FeatureImportance) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"feature", "importance"}); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTable, err)
	}
	for _, fi := range importances {
		if err := cw.Write([]string{fi.Feature, formatFloat(fi.Importance)}); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteTable, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTable, err)
	}
	return nil
}

// WriteRaw writes records in the source dataset layout read by Decode.
func WriteRaw(w io.Writer, records []model.RawMemberRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTable, err)
	}
	for i := range records {
		r := &records[i]
		row := []string{
			r.MemberID,
			text(r.Name),
			number(r.Age),
			text(r.Gender),
			text(r.Address),
			text(r.PhoneNumber),
			text(r.MembershipType),
			date(r.JoinDate),
			date(r.LastVisitDate),
			text(r.FavoriteExercise),
			number(r.AvgWorkoutDurationMin),
			number(r.AvgCaloriesBurned),
			number(r.TotalWeightLiftedKg),
			number(r.VisitsPerMonth),
			text(r.Churn),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("%w: row %d: %w", ErrWriteTable, i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteTable, err)
	}
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return formatFloat(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func number(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(model.DateLayout)
}
