package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
)

// Default replay settings.
const (
	DefaultBatchSize = 100
	DefaultTopN      = 10
	defaultTimeout   = 30 * time.Second
)

type memberPayload struct {
	MemberID              string   `json:"member_id"`
	Name                  *string  `json:"name,omitempty"`
	Age                   *float64 `json:"age,omitempty"`
	Gender                *string  `json:"gender,omitempty"`
	Address               *string  `json:"address,omitempty"`
	PhoneNumber           *string  `json:"phone_number,omitempty"`
	MembershipType        *string  `json:"membership_type,omitempty"`
	JoinDate              string   `json:"join_date,omitempty"`
	LastVisitDate         string   `json:"last_visit_date,omitempty"`
	FavoriteExercise      *string  `json:"favorite_exercise,omitempty"`
	AvgWorkoutDurationMin *float64 `json:"avg_workout_duration_min,omitempty"`
	AvgCaloriesBurned     *float64 `json:"avg_calories_burned,omitempty"`
	TotalWeightLiftedKg   *float64 `json:"total_weight_lifted_kg,omitempty"`
	VisitsPerMonth        *float64 `json:"visits_per_month,omitempty"`
	Churn                 *string  `json:"churn,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		MemberID  string `json:"member_id"`
		RiskLevel string `json:"risk_level"`
	} `json:"predictions"`
}

// Submit posts records to POST /predict in batches, then reads the top of
// GET /at-risk. Failed batches are counted, not fatal.
func Submit(ctx context.Context, cfg SubmitConfig, records []model.RawMemberRecord) (Stats, error) {
	start := time.Now()
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		return Stats{}, fmt.Errorf("base url is empty")
	}
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	workers := max(cfg.Workers, 1)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	topN := cfg.TopN
	if topN < 1 {
		topN = DefaultTopN
	}
	client := &http.Client{Timeout: timeout}
	log := orNop(cfg.Logger).Named("synth")

	var (
		batches     atomic.Int64
		failed      atomic.Int64
		predictions atomic.Int64
		high        atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < len(records); lo += batchSize {
		batch := records[lo:min(lo+batchSize, len(records))]
		g.Go(func() error {
			batches.Add(1)
			resp, err := postBatch(gctx, client, base+"/predict", batch)
			if err != nil {
				failed.Add(1)
				log.Warn(gctx, "batch failed", logger.Int("size", len(batch)), logger.Error(err))
				return nil
			}
			predictions.Add(int64(len(resp.Predictions)))
			for _, p := range resp.Predictions {
				if p.RiskLevel == model.RiskHigh.String() {
					high.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Stats{}, fmt.Errorf("submit cancelled: %w", err)
	}

	atRisk, err := fetchAtRisk(ctx, client, base+"/at-risk?limit="+strconv.Itoa(topN))
	if err != nil {
		return Stats{}, fmt.Errorf("fetch at-risk members: %w", err)
	}

	stats := Stats{
		Generated:   len(records),
		Batches:     int(batches.Load()),
		Failed:      int(failed.Load()),
		Predictions: int(predictions.Load()),
		HighRisk:    int(high.Load()),
		AtRisk:      atRisk,
		Duration:    time.Since(start),
	}
	log.Info(ctx, "replay finished",
		logger.Int("batches", stats.Batches),
		logger.Int("failed", stats.Failed),
		logger.Int("predictions", stats.Predictions),
		logger.Int("high_risk", stats.HighRisk),
		logger.Duration("elapsed", stats.Duration))
	return stats, nil
}

func postBatch(ctx context.Context, client *http.Client, url string, batch []model.RawMemberRecord) (predictResponse, error) {
	payload := struct {
		Records []memberPayload `json:"records"`
	}{Records: make([]memberPayload, len(batch))}
	for i := range batch {
		payload.Records[i] = toPayload(&batch[i])
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return predictResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return predictResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out predictResponse
	if err := do(client, req, &out); err != nil {
		return predictResponse{}, err
	}
	return out, nil
}

func fetchAtRisk(ctx context.Context, client *http.Client, url string) ([]AtRiskEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var out []AtRiskEntry
	if err := do(client, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toPayload(r *model.RawMemberRecord) memberPayload {
	p := memberPayload{
		MemberID:              r.MemberID,
		Name:                  r.Name,
		Age:                   r.Age,
		Gender:                r.Gender,
		Address:               r.Address,
		PhoneNumber:           r.PhoneNumber,
		MembershipType:        r.MembershipType,
		FavoriteExercise:      r.FavoriteExercise,
		AvgWorkoutDurationMin: r.AvgWorkoutDurationMin,
		AvgCaloriesBurned:     r.AvgCaloriesBurned,
		TotalWeightLiftedKg:   r.TotalWeightLiftedKg,
		VisitsPerMonth:        r.VisitsPerMonth,
		Churn:                 r.Churn,
	}
	if r.JoinDate != nil {
		p.JoinDate = r.JoinDate.Format(model.DateLayout)
	}
	if r.LastVisitDate != nil {
		p.LastVisitDate = r.LastVisitDate.Format(model.DateLayout)
	}
	return p
}
