package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/churngym/internal/adapters/http/api"
	"github.com/okian/churngym/internal/adapters/repository"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing
type mockDependencies struct {
	received   []model.RawMemberRecord
	predictErr error
	topN       []repository.Entry
	topNErr    error
	latest     model.Prediction
	latestErr  error
	lastLimit  int
}

func (m *mockDependencies) PredictRecords(_ context.Context, records []model.RawMemberRecord) ([]model.Prediction, error) {
	if m.predictErr != nil {
		return nil, m.predictErr
	}
	m.received = records
	out := make([]model.Prediction, len(records))
	for i, r := range records {
		out[i] = model.Prediction{MemberID: r.MemberID, ChurnProbability: 0.75, ChurnLabel: 1, RiskLevel: model.RiskHigh, ThresholdUsed: 0.5}
	}
	return out, nil
}

func (m *mockDependencies) TopN(_ context.Context, n int) ([]repository.Entry, error) {
	m.lastLimit = n
	if m.topNErr != nil {
		return nil, m.topNErr
	}
	if n > len(m.topN) {
		return m.topN, nil
	}
	return m.topN[:n], nil
}

func (m *mockDependencies) Latest(_ context.Context, _ string) (model.Prediction, error) {
	if m.latestErr != nil {
		return model.Prediction{}, m.latestErr
	}
	return m.latest, nil
}

func newMux(deps *mockDependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, 10).Register(context.Background(), mux)
	return mux
}

func serve(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("When requesting the health endpoint", func() {
			w := serve(mux, http.MethodGet, "/healthz", "")

			Convey("Then metrics are exposed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "churngym_pipeline")
			})
		})

		Convey("When using the wrong method", func() {
			So(serve(mux, http.MethodGet, "/predict", "").Code, ShouldEqual, http.StatusNotFound)
			So(serve(mux, http.MethodPost, "/at-risk?limit=1", "").Code, ShouldEqual, http.StatusNotFound)
			So(serve(mux, http.MethodDelete, "/members/m1", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestPredictHandler(t *testing.T) {
	Convey("Given a predict handler", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When posting valid records", func() {
			body := `{"records":[
				{"member_id":"m1","age":34,"gender":"Female","join_date":"2023-01-10","last_visit_date":"2024-01-02","visits_per_month":8},
				{"member_id":"m2","join_date":"","churn":null}
			]}`
			w := serve(mux, http.MethodPost, "/predict", body)

			Convey("Then predictions are returned in order", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					Predictions []model.Prediction `json:"predictions"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Predictions, ShouldHaveLength, 2)
				So(resp.Predictions[0].MemberID, ShouldEqual, "m1")
				So(resp.Predictions[1].MemberID, ShouldEqual, "m2")
				So(resp.Predictions[0].RiskLevel.Equal(model.RiskHigh), ShouldBeTrue)
			})

			Convey("Then records reach the service as raw records", func() {
				So(deps.received, ShouldHaveLength, 2)
				first := deps.received[0]
				So(*first.Age, ShouldEqual, 34.0)
				So(*first.Gender, ShouldEqual, "Female")
				So(first.JoinDate.Equal(time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(deps.received[1].JoinDate, ShouldBeNil)
				So(deps.received[1].Age, ShouldBeNil)
				So(deps.received[1].Churn, ShouldBeNil)
			})
		})

		Convey("When the body is not JSON", func() {
			w := serve(mux, http.MethodPost, "/predict", "{")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "bad_request")
		})

		Convey("When there are no records", func() {
			w := serve(mux, http.MethodPost, "/predict", `{"records":[]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a member id is missing", func() {
			w := serve(mux, http.MethodPost, "/predict", `{"records":[{"member_id":" "}]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(w.Body.String(), ShouldContainSubstring, "member_id")
		})

		Convey("When one record has malformed fields", func() {
			before := fieldsDefaulted("join_date")
			body := `{"records":[
				{"member_id":"a","join_date":"2023-01-10","age":30},
				{"member_id":"b","join_date":"01/02/2023","age":"old","visits_per_month":"6","gender":7}
			]}`
			w := serve(mux, http.MethodPost, "/predict", body)

			Convey("Then the batch is scored with those fields missing", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.received, ShouldHaveLength, 2)

				a, b := deps.received[0], deps.received[1]
				So(a.JoinDate.Equal(time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(*a.Age, ShouldEqual, 30.0)

				So(b.JoinDate, ShouldBeNil)
				So(b.Age, ShouldBeNil)
				So(b.Gender, ShouldBeNil)
				So(*b.VisitsPerMonth, ShouldEqual, 6.0)
			})

			Convey("And the defaulted date is counted", func() {
				So(fieldsDefaulted("join_date")-before, ShouldEqual, 1)
			})
		})

		Convey("When the service fails", func() {
			deps.predictErr = errors.New("scorer down")
			w := serve(mux, http.MethodPost, "/predict", `{"records":[{"member_id":"m1"}]}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(errorCode(w), ShouldEqual, "internal_error")
		})
	})
}

func TestAtRiskHandler(t *testing.T) {
	Convey("Given an at-risk handler", t, func() {
		deps := &mockDependencies{
			topN: []repository.Entry{
				{Rank: 1, Prediction: model.Prediction{MemberID: "a", ChurnProbability: 0.9, RiskLevel: model.RiskHigh}},
				{Rank: 1, Prediction: model.Prediction{MemberID: "b", ChurnProbability: 0.9, RiskLevel: model.RiskHigh}},
				{Rank: 2, Prediction: model.Prediction{MemberID: "c", ChurnProbability: 0.4, RiskLevel: model.RiskMedium}},
			},
		}
		mux := newMux(deps)

		Convey("When requesting the top members", func() {
			w := serve(mux, http.MethodGet, "/at-risk?limit=2", "")

			Convey("Then ranked predictions are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var out []map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
				So(out, ShouldHaveLength, 2)
				So(out[0]["rank"], ShouldEqual, 1.0)
				So(out[0]["member_id"], ShouldEqual, "a")
				So(out[0]["risk_level"], ShouldEqual, "high")
				So(deps.lastLimit, ShouldEqual, 2)
			})
		})

		Convey("When no limit is specified", func() {
			w := serve(mux, http.MethodGet, "/at-risk", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "bad_request")
		})

		Convey("When the limit is above the maximum", func() {
			w := serve(mux, http.MethodGet, "/at-risk?limit=11", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "limit_exceeded")
		})

		Convey("When the store fails", func() {
			deps.topNErr = errors.New("disk full")
			w := serve(mux, http.MethodGet, "/at-risk?limit=1", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestMemberHandler(t *testing.T) {
	Convey("Given a member handler", t, func() {
		deps := &mockDependencies{
			latest: model.Prediction{MemberID: "m1", ChurnProbability: 0.42, RiskLevel: model.RiskMedium, ThresholdUsed: 0.5},
		}
		mux := newMux(deps)

		Convey("When requesting a known member", func() {
			w := serve(mux, http.MethodGet, "/members/m1", "")

			Convey("Then the latest prediction is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var p model.Prediction
				So(json.Unmarshal(w.Body.Bytes(), &p), ShouldBeNil)
				So(p.MemberID, ShouldEqual, "m1")
				So(p.RiskLevel.Equal(model.RiskMedium), ShouldBeTrue)
			})
		})

		Convey("When requesting an unknown member", func() {
			deps.latestErr = repository.ErrNotFound
			w := serve(mux, http.MethodGet, "/members/ghost", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})

		Convey("When the store fails", func() {
			deps.latestErr = errors.New("locked")
			w := serve(mux, http.MethodGet, "/members/m1", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When the id is missing or nested", func() {
			So(serve(mux, http.MethodGet, "/members/", "").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(mux, http.MethodGet, "/members/a/b", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

// apiErrors reads the api error counter for code.
func apiErrors(code string) float64 {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		return 0
	}
	for _, family := range families {
		if family.GetName() != "churngym_pipeline_errors_by_component_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["component"] == "api" && labels["error_type"] == code {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetricsMiddleware(t *testing.T) {
	Convey("Given a registered API", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("When a handler replies with an error code", func() {
			before := apiErrors("limit_exceeded")
			serve(mux, http.MethodGet, "/at-risk?limit=11", "")

			Convey("Then the error is counted under that code", func() {
				So(apiErrors("limit_exceeded")-before, ShouldEqual, 1)
			})
		})

		Convey("When a route rejects the method", func() {
			before := apiErrors("not_found")
			serve(mux, http.MethodPost, "/at-risk?limit=1", "")

			Convey("Then it is counted as not found", func() {
				So(apiErrors("not_found")-before, ShouldEqual, 1)
			})
		})
	})
}

// fieldsDefaulted reads the defaulted counter for field.
func fieldsDefaulted(field string) float64 {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		return 0
	}
	for _, family := range families {
		if family.GetName() != "churngym_pipeline_fields_defaulted_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "field" && l.GetValue() == field {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
