package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/churngym/pkg/metrics"
)

// MetricsMiddleware records request count and latency for endpoint. Failed
// requests are also counted by the error code the handler replied with.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, float64(time.Since(start).Microseconds())/1000)
		if rec.status >= http.StatusBadRequest {
			metrics.RecordErrorByComponent("api", rec.errorCode())
		}
	}
}

// statusRecorder remembers the status and the error code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	code   string
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// errorCode prefers the code from writeError; bare statuses such as the
// mux's 404 are classified by class.
func (rec *statusRecorder) errorCode() string {
	switch {
	case rec.code != "":
		return rec.code
	case rec.status == http.StatusNotFound:
		return "not_found"
	case rec.status >= http.StatusInternalServerError:
		return "internal_error"
	default:
		return "bad_request"
	}
}
