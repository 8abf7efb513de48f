package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/churngym/internal/adapters/mq/queue"
	"github.com/okian/churngym/internal/adapters/mq/worker"
	"github.com/okian/churngym/internal/domain/dedupe"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

type mockNotifier struct {
	mu      sync.Mutex
	batches [][]model.Prediction
	err     error
	delay   time.Duration
}

func (m *mockNotifier) NotifyHighRisk(_ context.Context, predictions []model.Prediction) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, predictions)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func predictions(ids ...string) []model.Prediction {
	out := make([]model.Prediction, 0, len(ids))
	for i, id := range ids {
		risk := model.RiskHigh
		if i%2 == 1 {
			risk = model.RiskLow
		}
		out = append(out, model.Prediction{MemberID: id, RiskLevel: risk, RunID: "run-1"})
	}
	return out
}

func TestPool(t *testing.T) {
	convey.Convey("Given a started pool", t, func() {
		ctx := context.Background()
		notifier := &mockNotifier{}
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		pool := worker.NewPool(2, q, notifier)
		pool.Start(ctx)

		convey.Convey("When batches are queued and the pool shuts down", func() {
			convey.So(pool.NotifyHighRisk(ctx, predictions("a", "b", "c")), convey.ShouldBeNil)
			convey.So(pool.NotifyHighRisk(ctx, predictions("d")), convey.ShouldBeNil)

			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)

			convey.Convey("Then every batch is delivered with only high-risk members", func() {
				convey.So(notifier.count(), convey.ShouldEqual, 2)
				total := 0
				for _, b := range notifier.batches {
					for _, p := range b {
						convey.So(p.RiskLevel.Equal(model.RiskHigh), convey.ShouldBeTrue)
						total++
					}
				}
				convey.So(total, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When a batch has no high-risk member", func() {
			convey.So(pool.NotifyHighRisk(ctx, []model.Prediction{{MemberID: "x", RiskLevel: model.RiskMedium}}), convey.ShouldBeNil)
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then nothing is delivered", func() {
				convey.So(notifier.count(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When queueing after shutdown", func() {
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
			err := pool.NotifyHighRisk(ctx, predictions("late"))

			convey.Convey("Then the queue rejects it", func() {
				convey.So(errors.Is(err, queue.ErrClosed), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a notifier that fails", t, func() {
		ctx := context.Background()
		notifier := &mockNotifier{err: errors.New("telegram down")}
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(1, q, notifier)
		pool.Start(ctx)

		convey.Convey("Then workers keep draining the queue", func() {
			convey.So(pool.NotifyHighRisk(ctx, predictions("a")), convey.ShouldBeNil)
			convey.So(pool.NotifyHighRisk(ctx, predictions("b")), convey.ShouldBeNil)
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
			convey.So(q.Len(ctx), convey.ShouldEqual, 0)
		})
	})

	convey.Convey("Given a slow notifier", t, func() {
		ctx := context.Background()
		notifier := &mockNotifier{delay: 200 * time.Millisecond}
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(1, q, notifier)
		pool.Start(ctx)

		convey.Convey("When shutdown has a short deadline", func() {
			convey.So(pool.NotifyHighRisk(ctx, predictions("a")), convey.ShouldBeNil)
			convey.So(pool.NotifyHighRisk(ctx, predictions("b")), convey.ShouldBeNil)
			shutdownCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then it times out", func() {
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a pool with a deduper", t, func() {
		ctx := context.Background()
		notifier := &mockNotifier{}
		d := dedupe.NewInMemoryDeduper()
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		pool := worker.NewPool(1, q, notifier, worker.WithDeduper(d))
		pool.Start(ctx)

		convey.Convey("When the same member is flagged twice", func() {
			convey.So(pool.NotifyHighRisk(ctx, predictions("a")), convey.ShouldBeNil)
			convey.So(pool.NotifyHighRisk(ctx, predictions("a")), convey.ShouldBeNil)
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then only the first alert is delivered", func() {
				convey.So(notifier.count(), convey.ShouldEqual, 1)
				convey.So(d.Size(), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When queueing fails", func() {
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
			convey.So(pool.NotifyHighRisk(ctx, predictions("late")), convey.ShouldNotBeNil)

			convey.Convey("Then the member is not remembered", func() {
				convey.So(d.Size(), convey.ShouldEqual, 0)
			})
		})
	})
}
