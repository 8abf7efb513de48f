package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/churngym/internal/domain/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func prediction(id string, p float64, risk model.RiskLevel) model.Prediction {
	label := 0
	if p >= 0.5 {
		label = 1
	}
	return model.Prediction{
		MemberID:         id,
		ChurnProbability: p,
		ChurnLabel:       label,
		RiskLevel:        risk,
		ThresholdUsed:    0.5,
		RunID:            "run-1",
		PredictedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if n, err := store.Count(ctx); err != nil || n != 0 {
		t.Fatalf("expected empty store, got %d (%v)", n, err)
	}

	err := store.Save(ctx, []model.Prediction{prediction("m1", 0.8, model.RiskHigh)})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ChurnProbability != 0.8 || got.ChurnLabel != 1 || !got.RiskLevel.Equal(model.RiskHigh) {
		t.Errorf("unexpected prediction: %+v", got)
	}
	if got.ThresholdUsed != 0.5 || got.RunID != "run-1" {
		t.Errorf("audit fields not kept: %+v", got)
	}
	if !got.PredictedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PredictedAt = %v", got.PredictedAt)
	}

	if _, err := store.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_LatestWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := prediction("m1", 0.9, model.RiskHigh)
	second := prediction("m1", 0.2, model.RiskLow)
	second.ThresholdUsed = 0.6
	if err := store.Save(ctx, []model.Prediction{first}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, []model.Prediction{second}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ChurnProbability != 0.2 || got.ThresholdUsed != 0.6 {
		t.Errorf("expected latest prediction, got %+v", got)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("expected 1 member, got %d", n)
	}

	top, err := store.TopN(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 1 || top[0].Prediction.ChurnProbability != 0.2 {
		t.Errorf("ranking must use the latest prediction: %+v", top)
	}
}

func TestSQLiteStore_TopNOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batch := []model.Prediction{
		prediction("c", 0.4, model.RiskMedium),
		prediction("a", 0.9, model.RiskHigh),
		prediction("b", 0.9, model.RiskHigh),
		prediction("d", 0.1, model.RiskLow),
	}
	if err := store.Save(ctx, batch); err != nil {
		t.Fatal(err)
	}

	top, err := store.TopN(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		id   string
		rank int
	}{{"a", 1}, {"b", 1}, {"c", 2}}
	if len(top) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(top))
	}
	for i, w := range want {
		if top[i].Prediction.MemberID != w.id || top[i].Rank != w.rank {
			t.Errorf("entry %d = %s/%d, want %s/%d", i, top[i].Prediction.MemberID, top[i].Rank, w.id, w.rank)
		}
	}

	if _, err := store.TopN(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestSQLiteStore_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				p := prediction(fmt.Sprintf("m-%d-%d", w, i), float64(i)/25, model.RiskLow)
				if err := store.Save(ctx, []model.Prediction{p}); err != nil {
					t.Errorf("Save failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	if n, err := store.Count(ctx); err != nil || n != 200 {
		t.Errorf("expected 200 members, got %d (%v)", n, err)
	}
}
