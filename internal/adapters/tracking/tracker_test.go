package tracking_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/okian/churngym/internal/adapters/tracking"
	. "github.com/smartystreets/goconvey/convey"
)

func newTracker(t *testing.T) (*tracking.SQLiteTracker, string) {
	root := filepath.Join(t.TempDir(), "artifacts")
	tr, err := tracking.New(context.Background(), ":memory:", root)
	So(err, ShouldBeNil)
	Reset(func() { _ = tr.Close() })
	return tr, root
}

func TestNew(t *testing.T) {
	Convey("Given tracker configuration", t, func() {
		ctx := context.Background()

		Convey("When the dsn is missing", func() {
			_, err := tracking.New(ctx, "", "artifacts")
			So(errors.Is(err, tracking.ErrTrackingConfig), ShouldBeTrue)
		})

		Convey("When the artifact root is missing", func() {
			_, err := tracking.New(ctx, ":memory:", " ")
			So(errors.Is(err, tracking.ErrTrackingConfig), ShouldBeTrue)
		})

		Convey("When the configuration is complete", func() {
			tr, root := newTracker(t)
			abs, _ := filepath.Abs(root)

			Convey("Then the artifact root is a file URI", func() {
				So(tr.ArtifactURI(), ShouldEqual, "file:"+abs)
			})
		})
	})
}

func TestNormalizeArtifactURI(t *testing.T) {
	Convey("Given artifact roots", t, func() {
		for _, uri := range []string{"file:/tmp/a", "s3://bucket/a", "gs://bucket/a", "https://host/a"} {
			got, err := tracking.NormalizeArtifactURI(uri)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, uri)
		}

		got, err := tracking.NormalizeArtifactURI("mlruns")
		So(err, ShouldBeNil)
		So(got, ShouldStartWith, "file:/")
		So(got, ShouldEndWith, "/mlruns")
	})
}

func TestRunName(t *testing.T) {
	Convey("Given a prefix and a time", t, func() {
		name := tracking.RunName("TRAIN", time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC))
		So(regexp.MustCompile(`^TRAIN_20240305_070809_[0-9a-f]{4}$`).MatchString(name), ShouldBeTrue)
	})
}

func TestExperimentLifecycle(t *testing.T) {
	Convey("Given a tracker", t, func() {
		ctx := context.Background()
		tr, _ := newTracker(t)

		Convey("When the same experiment is set up twice", func() {
			first, err := tr.SetupExperiment(ctx, "churn")
			So(err, ShouldBeNil)
			second, err := tr.SetupExperiment(ctx, "churn")
			So(err, ShouldBeNil)

			Convey("Then it is reused", func() {
				So(second, ShouldEqual, first)
			})
		})

		Convey("When logging without an active run", func() {
			So(errors.Is(tr.LogParams(ctx, map[string]any{"a": 1}), tracking.ErrNoActiveRun), ShouldBeTrue)
			So(errors.Is(tr.LogMetric(ctx, "auc", 0.8, 0), tracking.ErrNoActiveRun), ShouldBeTrue)
			So(tr.EndRun(ctx, tracking.StatusFinished), ShouldBeNil)
		})

		Convey("When a run is started and ended", func() {
			_, err := tr.SetupExperiment(ctx, "churn")
			So(err, ShouldBeNil)
			id, err := tr.StartRun(ctx, "TRAIN_1", false)
			So(err, ShouldBeNil)

			active, ok := tr.ActiveRun()
			So(ok, ShouldBeTrue)
			So(active, ShouldEqual, id)

			So(tr.LogParams(ctx, map[string]any{"depth": 6, "lr": 0.05}), ShouldBeNil)
			So(tr.LogMetrics(ctx, map[string]float64{"auc": 0.81}), ShouldBeNil)
			So(tr.LogMetric(ctx, "logloss", 0.7, 0), ShouldBeNil)
			So(tr.LogMetric(ctx, "logloss", 0.5, 1), ShouldBeNil)
			So(tr.EndRun(ctx, tracking.StatusFinished), ShouldBeNil)

			Convey("Then everything is persisted", func() {
				run, err := tr.GetRun(ctx, id)
				So(err, ShouldBeNil)
				So(run.Name, ShouldEqual, "TRAIN_1")
				So(run.Status, ShouldEqual, tracking.StatusFinished)
				So(run.EndTime, ShouldNotBeNil)
				So(run.Params, ShouldResemble, map[string]string{"depth": "6", "lr": "0.05"})
				So(run.Metrics["auc"], ShouldResemble, []float64{0.81})
				So(run.Metrics["logloss"], ShouldResemble, []float64{0.7, 0.5})
			})

			Convey("And no run is active any more", func() {
				_, ok := tr.ActiveRun()
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a run is started over a stale one", func() {
			stale, err := tr.StartRun(ctx, "stale", false)
			So(err, ShouldBeNil)
			fresh, err := tr.StartRun(ctx, "fresh", false)
			So(err, ShouldBeNil)

			Convey("Then the stale run is closed", func() {
				run, err := tr.GetRun(ctx, stale)
				So(err, ShouldBeNil)
				So(run.Status, ShouldEqual, tracking.StatusFinished)
				active, _ := tr.ActiveRun()
				So(active, ShouldEqual, fresh)
			})
		})

		Convey("When a nested run is started", func() {
			parent, err := tr.StartRun(ctx, "parent", false)
			So(err, ShouldBeNil)
			child, err := tr.StartRun(ctx, "child", true)
			So(err, ShouldBeNil)

			Convey("Then it records its parent and ending it reactivates the parent", func() {
				run, err := tr.GetRun(ctx, child)
				So(err, ShouldBeNil)
				So(run.ParentID, ShouldEqual, parent)
				So(run.Status, ShouldEqual, tracking.StatusRunning)

				So(tr.EndRun(ctx, tracking.StatusFailed), ShouldBeNil)
				active, ok := tr.ActiveRun()
				So(ok, ShouldBeTrue)
				So(active, ShouldEqual, parent)

				run, err = tr.GetRun(ctx, child)
				So(err, ShouldBeNil)
				So(run.Status, ShouldEqual, tracking.StatusFailed)
			})
		})

		Convey("When an artifact is logged", func() {
			src := filepath.Join(t.TempDir(), "features.csv")
			So(os.WriteFile(src, []byte("a,b\n1,2\n"), 0o600), ShouldBeNil)
			id, err := tr.StartRun(ctx, "artifacts", false)
			So(err, ShouldBeNil)
			So(tr.LogArtifact(ctx, src), ShouldBeNil)

			Convey("Then it is copied under the run directory", func() {
				run, err := tr.GetRun(ctx, id)
				So(err, ShouldBeNil)
				uri := run.Artifacts["features.csv"]
				So(uri, ShouldContainSubstring, id)
				data, err := os.ReadFile(strings.TrimPrefix(uri, "file:"))
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, "a,b\n1,2\n")
			})
		})

		Convey("When a missing run is requested", func() {
			_, err := tr.GetRun(ctx, "nope")
			So(errors.Is(err, tracking.ErrRunNotFound), ShouldBeTrue)
		})
	})
}
