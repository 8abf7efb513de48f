package synth

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/churngym/internal/adapters/dataset"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/logger"
)

// Ranges for generated values.
const (
	minAge          = 18
	ageRange        = 50
	maxTenureDays   = 1500
	maxIdleDays     = 180
	minWorkoutMin   = 20.0
	workoutRange    = 70.0
	caloriesPerMin  = 8.0
	maxLiftedKg     = 6000.0
	maxVisits       = 20
	churnBias       = -1.5
	churnIdleWeight = 0.03
	churnVisitPull  = 0.25
)

var (
	memberNamespace = uuid.MustParse("6f2d7a52-8b1e-4c43-9d0e-2b9f3c61a7d4")

	genders     = []string{"Male", "Female", " female ", "MALE", "Other"}
	memberships = []string{"Basic", "Premium", "VIP", "basic"}
	exercises   = []string{"Cardio", "Yoga", "Weightlifting", "CrossFit", "Pilates", "Swimming"}
	firstNames  = []string{"Alex", "Sam", "Jordan", "Taylor", "Casey", "Riley", "Morgan", "Jamie"}
	lastNames   = []string{"Smith", "Garcia", "Chen", "Okafor", "Novak", "Silva", "Khan", "Berg"}
	streets     = []string{"Oak St", "Pine Ave", "Elm Rd", "Lake Dr", "Hill Ln"}
)

// Generate returns cfg.Rows synthetic members. Rows are generated concurrently
// but each row depends only on the seed and its index, so output is stable.
func Generate(ctx context.Context, cfg Config) ([]model.RawMemberRecord, error) {
	if cfg.Rows < 0 {
		return nil, fmt.Errorf("rows must be non-negative, got %d", cfg.Rows)
	}
	if cfg.Missing < 0 || cfg.Missing > 1 {
		return nil, fmt.Errorf("missing rate must be in [0,1], got %g", cfg.Missing)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	today := model.Date(now)

	orNop(cfg.Logger).Info(ctx, "generating members", logger.Int("rows", cfg.Rows), logger.Int("workers", workers))

	out := make([]model.RawMemberRecord, cfg.Rows)
	chunk := max(1, (cfg.Rows+workers-1)/workers)

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < cfg.Rows; lo += chunk {
		hi := min(lo+chunk, cfg.Rows)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[i] = member(cfg, i, today)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("generate members: %w", err)
	}
	return out, nil
}

// WriteCSV generates members and writes them in the dataset layout.
func WriteCSV(ctx context.Context, w io.Writer, cfg Config) (int, error) {
	records, err := Generate(ctx, cfg)
	if err != nil {
		return 0, err
	}
	if err := dataset.WriteRaw(w, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func member(cfg Config, i int, today time.Time) model.RawMemberRecord {
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
	blank := func() bool { return rng.Float64() < cfg.Missing }

	tenure := rng.IntN(maxTenureDays) + 1
	idle := rng.IntN(min(tenure, maxIdleDays) + 1)
	join := today.AddDate(0, 0, -tenure)
	last := today.AddDate(0, 0, -idle)

	visits := math.Round(float64(maxVisits)*math.Pow(rng.Float64(), 0.8)*10) / 10
	duration := math.Round(minWorkoutMin + rng.Float64()*workoutRange)
	calories := math.Round(duration * caloriesPerMin * (0.7 + 0.6*rng.Float64()))
	lifted := math.Round(rng.Float64() * maxLiftedKg)
	age := float64(minAge + rng.IntN(ageRange))

	r := model.RawMemberRecord{
		MemberID:         uuid.NewSHA1(memberNamespace, []byte(strconv.FormatUint(cfg.Seed, 10)+":"+strconv.Itoa(i))).String(),
		Name:             ptr(pick(rng, firstNames) + " " + pick(rng, lastNames)),
		Address:          ptr(strconv.Itoa(1+rng.IntN(999)) + " " + pick(rng, streets)),
		PhoneNumber:      ptr(fmt.Sprintf("555-%04d", rng.IntN(10000))),
		JoinDate:         &join,
		LastVisitDate:    &last,
		Age:              &age,
		Gender:           ptr(pick(rng, genders)),
		MembershipType:   ptr(pick(rng, memberships)),
		FavoriteExercise: ptr(pick(rng, exercises)),

		AvgWorkoutDurationMin: &duration,
		AvgCaloriesBurned:     &calories,
		TotalWeightLiftedKg:   &lifted,
		VisitsPerMonth:        &visits,
	}

	// Churn follows idleness and attendance so trained models have signal.
	if !cfg.Unlabelled {
		z := churnBias + churnIdleWeight*float64(idle) - churnVisitPull*visits
		churn := "No"
		if rng.Float64() < 1/(1+math.Exp(-z)) {
			churn = "Yes"
		}
		r.Churn = &churn
	}

	if blank() {
		r.Age = nil
	}
	if blank() {
		r.Gender = nil
	}
	if blank() {
		r.FavoriteExercise = nil
	}
	if blank() {
		r.LastVisitDate = nil
	}
	if blank() {
		r.VisitsPerMonth = nil
	}
	if blank() {
		r.AvgCaloriesBurned = nil
	}
	return r
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

func ptr[T any](v T) *T { return &v }
