// Package features derives model-ready feature vectors from canonical member records.
package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
	"github.com/okian/churngym/pkg/metrics"
)

// Bucket labels.
const (
	BucketUnknown = "unknown"
	BucketShort   = "short"
	BucketMedium  = "medium"
	BucketLong    = "long"
	BucketRecent  = "recent"
	BucketStale   = "stale"
)

const (
	shortTenureDays  = 90
	longTenureDays   = 365
	recentVisitDays  = 30
	daysPerMonth     = 30.0
	hoursPerDay      = 24
	minChunkPerGroup = 64
)

// Pipeline derives one feature vector per record, in input order.
type Pipeline interface {
	Run(ctx context.Context, records []model.MemberRecord) ([]model.FeatureVector, error)
}

// Deriver implements Pipeline.
type Deriver struct {
	now     func() time.Time
	workers int
	log     logger.Logger
}

// NewDeriver creates a Deriver. By default it uses the wall clock and a single worker.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		now:     time.Now,
		workers: 1,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run derives features for records. Cancelling ctx aborts the whole batch.
func (d *Deriver) Run(ctx context.Context, records []model.MemberRecord) ([]model.FeatureVector, error) {
	start := time.Now()
	today := model.Date(d.now())
	out := make([]model.FeatureVector, len(records))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("derive features: %w", err)
	}

	chunk := len(records)
	if d.workers > 1 && len(records) > minChunkPerGroup {
		chunk = (len(records) + d.workers - 1) / d.workers
		if chunk < minChunkPerGroup {
			chunk = minChunkPerGroup
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for lo := 0; lo < len(records); lo += chunk {
		hi := min(lo+chunk, len(records))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[i] = derive(&records[i], today)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("derive features: %w", err)
	}

	metrics.RecordFeaturesDerived(len(out))
	metrics.RecordStageLatency("features", float64(time.Since(start).Microseconds())/1000)
	d.log.Debug(ctx, "features derived", logger.Int("rows", len(out)), logger.Int("workers", d.workers))
	return out, nil
}

func derive(r *model.MemberRecord, today time.Time) model.FeatureVector {
	tenure := model.None[float64]()
	if r.JoinDate != nil && r.LastVisitDate != nil {
		tenure = model.Some(days(*r.JoinDate, *r.LastVisitDate))
	}
	sinceLast := model.None[float64]()
	if r.LastVisitDate != nil {
		sinceLast = model.Some(days(*r.LastVisitDate, today))
	}

	return model.FeatureVector{
		MemberID: r.MemberID,

		Age:                   r.Age,
		AvgWorkoutDurationMin: r.AvgWorkoutDurationMin,
		AvgCaloriesBurned:     r.AvgCaloriesBurned,
		TotalWeightLiftedKg:   r.TotalWeightLiftedKg,
		VisitsPerMonth:        r.VisitsPerMonth,

		Gender:           orUnknown(r.Gender),
		MembershipType:   orUnknown(r.MembershipType),
		FavoriteExercise: orUnknown(r.FavoriteExercise),

		TenureDays:         tenure,
		DaysSinceLastVisit: sinceLast,
		TenureBucket:       tenureBucket(tenure),
		VisitRecencyBucket: recencyBucket(sinceLast),

		CaloriesPerMinute:     ratio("calories_per_minute", r.AvgCaloriesBurned, r.AvgWorkoutDurationMin),
		WeightPerVisit:        ratio("weight_per_visit", r.TotalWeightLiftedKg, r.VisitsPerMonth),
		AttendanceRate:        ratio("attendance_rate", r.VisitsPerMonth, model.Some(daysPerMonth)),
		RecencyFrequencyScore: recencyFrequency(sinceLast, r.VisitsPerMonth),
		WeightIntensity:       ratio("weight_intensity", r.TotalWeightLiftedKg, r.AvgWorkoutDurationMin),

		Churn: r.Churn,
	}
}

// days returns the whole days between the calendar dates of a and b.
func days(a, b time.Time) float64 {
	return math.Round(model.Date(b).Sub(model.Date(a)).Hours() / hoursPerDay)
}

func tenureBucket(tenure model.Optional[float64]) string {
	t, ok := tenure.Get()
	switch {
	case !ok:
		return BucketUnknown
	case t < shortTenureDays:
		return BucketShort
	case t < longTenureDays:
		return BucketMedium
	default:
		return BucketLong
	}
}

func recencyBucket(since model.Optional[float64]) string {
	s, ok := since.Get()
	switch {
	case !ok:
		return BucketUnknown
	case s < recentVisitDays:
		return BucketRecent
	default:
		return BucketStale
	}
}

// ratio divides num by den when both are present and den is positive.
func ratio(feature string, num, den model.Optional[float64]) float64 {
	n, okN := num.Get()
	dv, okD := den.Get()
	if !okN || !okD || dv <= 0 {
		metrics.RecordRatioFallback(feature)
		return 0
	}
	return finite(feature, n/dv)
}

// recencyFrequency scales the days since the last visit by the expected gap
// between visits.
func recencyFrequency(since, visits model.Optional[float64]) float64 {
	s, okS := since.Get()
	v, okV := visits.Get()
	if !okS || !okV || v <= 0 {
		metrics.RecordRatioFallback("recency_frequency_score")
		return 0
	}
	return finite("recency_frequency_score", s/(daysPerMonth/v))
}

// finite maps NaN, infinities and negatives to 0.
func finite(feature string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		metrics.RecordRatioFallback(feature)
		return 0
	}
	return v
}

func orUnknown(s string) string {
	if s == "" {
		return model.Unknown
	}
	return s
}
