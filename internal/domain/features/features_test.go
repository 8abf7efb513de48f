package features_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/okian/churngym/internal/domain/features"
	"github.com/okian/churngym/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var today = time.Date(2024, 1, 31, 15, 30, 0, 0, time.UTC)

func clock() time.Time { return today }

func daysAgo(n int) *time.Time {
	t := model.Date(today).AddDate(0, 0, -n)
	return &t
}

func member() model.MemberRecord {
	return model.MemberRecord{
		MemberID:              "M-1",
		Age:                   model.Some(30.0),
		Gender:                "female",
		MembershipType:        "Premium",
		JoinDate:              daysAgo(400),
		LastVisitDate:         daysAgo(10),
		FavoriteExercise:      "Yoga",
		AvgWorkoutDurationMin: model.Some(50.0),
		AvgCaloriesBurned:     model.Some(500.0),
		TotalWeightLiftedKg:   model.Some(1000.0),
		VisitsPerMonth:        model.Some(15.0),
		Churn:                 model.Some(1),
	}
}

func deriveOne(r model.MemberRecord) model.FeatureVector {
	out, err := features.NewDeriver(features.WithClock(clock)).Run(context.Background(), []model.MemberRecord{r})
	So(err, ShouldBeNil)
	So(len(out), ShouldEqual, 1)
	return out[0]
}

func ratios(v model.FeatureVector) []float64 {
	return []float64{v.CaloriesPerMinute, v.WeightPerVisit, v.AttendanceRate, v.RecencyFrequencyScore, v.WeightIntensity}
}

func TestDeriveComplete(t *testing.T) {
	Convey("Given a complete member record", t, func() {
		v := deriveOne(member())

		Convey("Then the time features are whole days", func() {
			So(v.TenureDays.OrElse(-1), ShouldEqual, 390)
			So(v.DaysSinceLastVisit.OrElse(-1), ShouldEqual, 10)
			So(v.TenureBucket, ShouldEqual, features.BucketLong)
			So(v.VisitRecencyBucket, ShouldEqual, features.BucketRecent)
		})

		Convey("Then the ratios follow their formulas", func() {
			So(v.CaloriesPerMinute, ShouldEqual, 10)
			So(v.WeightPerVisit, ShouldAlmostEqual, 1000.0/15.0)
			So(v.AttendanceRate, ShouldEqual, 0.5)
			So(v.RecencyFrequencyScore, ShouldEqual, 5)
			So(v.WeightIntensity, ShouldEqual, 20)
		})

		Convey("Then originals, categoricals and target pass through", func() {
			So(v.MemberID, ShouldEqual, "M-1")
			So(v.Age.OrElse(-1), ShouldEqual, 30)
			So(v.Gender, ShouldEqual, "female")
			So(v.Churn.OrElse(-1), ShouldEqual, 1)
		})
	})
}

func TestTenureBuckets(t *testing.T) {
	Convey("Given tenure lengths around the bucket cutoffs", t, func() {
		cases := []struct {
			days   int
			bucket string
		}{
			{0, features.BucketShort},
			{89, features.BucketShort},
			{90, features.BucketMedium},
			{364, features.BucketMedium},
			{365, features.BucketLong},
		}
		for _, c := range cases {
			Convey(fmt.Sprintf("When tenure is %d days", c.days), func() {
				r := member()
				r.LastVisitDate = daysAgo(0)
				r.JoinDate = daysAgo(c.days)
				v := deriveOne(r)

				So(v.TenureDays.OrElse(-1), ShouldEqual, float64(c.days))
				So(v.TenureBucket, ShouldEqual, c.bucket)
			})
		}

		Convey("When either date is missing", func() {
			r := member()
			r.JoinDate = nil
			v := deriveOne(r)

			Convey("Then tenure is undefined and the bucket is unknown", func() {
				So(v.TenureDays.IsSet(), ShouldBeFalse)
				So(v.TenureBucket, ShouldEqual, features.BucketUnknown)
				So(v.DaysSinceLastVisit.IsSet(), ShouldBeTrue)
			})
		})

		Convey("When the last visit is on or after the join date", func() {
			for n := 0; n < 800; n += 37 {
				r := member()
				r.JoinDate = daysAgo(n)
				r.LastVisitDate = daysAgo(0)
				So(deriveOne(r).TenureDays.OrElse(-1), ShouldBeGreaterThanOrEqualTo, 0)
			}
		})
	})
}

func TestRecencyBuckets(t *testing.T) {
	Convey("Given last visits around the recency cutoff", t, func() {
		r := member()

		r.LastVisitDate = daysAgo(29)
		So(deriveOne(r).VisitRecencyBucket, ShouldEqual, features.BucketRecent)

		r.LastVisitDate = daysAgo(30)
		So(deriveOne(r).VisitRecencyBucket, ShouldEqual, features.BucketStale)

		r.LastVisitDate = nil
		v := deriveOne(r)
		So(v.VisitRecencyBucket, ShouldEqual, features.BucketUnknown)
		So(v.DaysSinceLastVisit.IsSet(), ShouldBeFalse)
		So(v.RecencyFrequencyScore, ShouldEqual, 0)
	})
}

func TestRatioFallbacks(t *testing.T) {
	Convey("Given records with missing or degenerate operands", t, func() {
		Convey("When every field is missing", func() {
			v := deriveOne(model.MemberRecord{MemberID: "empty"})

			Convey("Then every ratio is 0.0 and categoricals are unknown", func() {
				So(ratios(v), ShouldResemble, []float64{0, 0, 0, 0, 0})
				So(v.Gender, ShouldEqual, model.Unknown)
				So(v.MembershipType, ShouldEqual, model.Unknown)
				So(v.FavoriteExercise, ShouldEqual, model.Unknown)
				So(v.TenureBucket, ShouldEqual, features.BucketUnknown)
				So(v.VisitRecencyBucket, ShouldEqual, features.BucketUnknown)
				So(v.Churn.IsSet(), ShouldBeFalse)
			})
		})

		Convey("When only visits_per_month is missing", func() {
			r := member()
			r.VisitsPerMonth = model.None[float64]()
			v := deriveOne(r)

			Convey("Then the visit based ratios are 0.0", func() {
				So(v.WeightPerVisit, ShouldEqual, 0)
				So(v.AttendanceRate, ShouldEqual, 0)
				So(v.RecencyFrequencyScore, ShouldEqual, 0)
				So(v.CaloriesPerMinute, ShouldEqual, 10)
			})
		})

		Convey("When the duration is zero", func() {
			r := member()
			r.AvgWorkoutDurationMin = model.Some(0.0)
			v := deriveOne(r)
			So(v.CaloriesPerMinute, ShouldEqual, 0)
			So(v.WeightIntensity, ShouldEqual, 0)
		})

		Convey("When operands are negative or huge", func() {
			r := member()
			r.VisitsPerMonth = model.Some(-4.0)
			r.TotalWeightLiftedKg = model.Some(math.MaxFloat64)
			r.AvgWorkoutDurationMin = model.Some(math.SmallestNonzeroFloat64)
			r.LastVisitDate = daysAgo(-5)
			v := deriveOne(r)

			Convey("Then every ratio is still finite and non-negative", func() {
				for _, x := range ratios(v) {
					So(math.IsNaN(x), ShouldBeFalse)
					So(math.IsInf(x, 0), ShouldBeFalse)
					So(x, ShouldBeGreaterThanOrEqualTo, 0)
				}
			})
		})
	})
}

func TestDeriverParallel(t *testing.T) {
	Convey("Given a large batch", t, func() {
		records := make([]model.MemberRecord, 1000)
		for i := range records {
			r := member()
			r.MemberID = fmt.Sprintf("M-%04d", i)
			r.VisitsPerMonth = model.Some(float64(i%20 + 1))
			records[i] = r
		}

		Convey("When derived with several workers", func() {
			d := features.NewDeriver(features.WithClock(clock), features.WithWorkers(8))
			out, err := d.Run(context.Background(), records)

			Convey("Then row i maps to record i", func() {
				So(err, ShouldBeNil)
				So(len(out), ShouldEqual, len(records))
				for i := range out {
					So(out[i].MemberID, ShouldEqual, records[i].MemberID)
				}
			})

			Convey("And the result matches a sequential run", func() {
				seq, err := features.NewDeriver(features.WithClock(clock)).Run(context.Background(), records)
				So(err, ShouldBeNil)
				So(out, ShouldResemble, seq)
			})
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			out, err := features.NewDeriver(features.WithWorkers(4)).Run(ctx, records)

			Convey("Then the batch is aborted without a partial result", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(out, ShouldBeNil)
			})
		})
	})
}

func TestTables(t *testing.T) {
	Convey("Given derived feature vectors", t, func() {
		labelled := deriveOne(member())
		unlabelled := deriveOne(model.MemberRecord{MemberID: "M-2", Age: model.Some(41.0)})
		vectors := []model.FeatureVector{labelled, unlabelled}

		Convey("When building a row", func() {
			row := features.Row(unlabelled)

			Convey("Then it follows the column schema", func() {
				So(len(row), ShouldEqual, len(features.FeaturesAll))
				So(len(features.FeaturesAll), ShouldEqual, len(features.NumericalFeatures)+len(features.CategoricalFeatures))
				So(features.FeaturesAll[0], ShouldEqual, "age")
				So(features.FeaturesAll[len(features.FeaturesAll)-1], ShouldEqual, "tenure_bucket")
				So(row[0], ShouldEqual, 41.0)
				So(row[1], ShouldBeNil)
				So(row[len(row)-1], ShouldEqual, features.BucketUnknown)
			})

			Convey("And the identifier and target are not feature columns", func() {
				So(features.FeaturesAll, ShouldNotContain, features.IDColumn)
				So(features.FeaturesAll, ShouldNotContain, features.TargetColumn)
			})
		})

		Convey("When building a training table", func() {
			table := features.TrainingTable(vectors)

			Convey("Then absent targets are labelled 0 and counted", func() {
				So(table.Len(), ShouldEqual, 2)
				So(table.Labels, ShouldResemble, []int{1, 0})
				So(table.DefaultedTargets, ShouldEqual, 1)
				So(table.IDs, ShouldResemble, []string{"M-1", "M-2"})
			})
		})

		Convey("When building a scoring table", func() {
			table := features.ScoringTable(vectors)
			So(table.Labels, ShouldBeNil)
			So(table.Columns, ShouldResemble, features.FeaturesAll)
			So(table.Categorical, ShouldResemble, features.CategoricalFeatures)
		})
	})
}
