// Package http is the HTTP transport of the scaler.
package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tomasen/realip"

	"github.com/pagescaler/pagescaler/auth"
	"github.com/pagescaler/pagescaler/dircache"
	"github.com/pagescaler/pagescaler/imgproc"
	"github.com/pagescaler/pagescaler/jobs"
	"github.com/pagescaler/pagescaler/logging"
	"github.com/pagescaler/pagescaler/metrics"
	"github.com/pagescaler/pagescaler/scaler"
)

// Deps are the components the handlers serve from.
type Deps struct {
	Pipeline *scaler.Pipeline
	Cache    *dircache.Cache
	Jobs     *jobs.Center[*imgproc.Result]
	// Identifier may be nil, in which case every caller is anonymous.
	Identifier *auth.Identifier
}

// NewHandler builds the router:
//
//	GET /scale       scaled page image
//	GET /text        text file of a document
//	GET /api/stats   cache and job center diagnostics
//	GET /metrics     prometheus metrics
func NewHandler(d Deps) http.Handler {
	h := &Handlers{
		pipeline:   d.Pipeline,
		cache:      d.Cache,
		jobs:       d.Jobs,
		identifier: d.Identifier,
	}

	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/scale", h.HandleScale).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/text", h.HandleText).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/stats", h.HandleStats).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, route, sr.status, elapsed)
		logging.Sub("http").Info("request",
			"method", r.Method,
			"route", route,
			"query", r.URL.RawQuery,
			"status", sr.status,
			"client", realip.FromRequest(r),
			"elapsed", elapsed,
		)
	})
}
