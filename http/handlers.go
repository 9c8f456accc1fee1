package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/tomasen/realip"

	"github.com/pagescaler/pagescaler/auth"
	"github.com/pagescaler/pagescaler/dircache"
	"github.com/pagescaler/pagescaler/errs"
	"github.com/pagescaler/pagescaler/imgproc"
	"github.com/pagescaler/pagescaler/jobs"
	"github.com/pagescaler/pagescaler/logging"
	"github.com/pagescaler/pagescaler/metrics"
	"github.com/pagescaler/pagescaler/scaler"
)

// StatsResponse holds the diagnostics served by /api/stats.
type StatsResponse struct {
	Cache        dircache.Stats  `json:"cache"`
	JobsRunning  int             `json:"jobsRunning"`
	JobsWaiting  int             `json:"jobsWaiting"`
	Workers      int             `json:"workers"`
	MaxWaiting   int             `json:"maxWaiting"`
	ResultCached int             `json:"resultCached"`
	MemTotal     uint64          `json:"memTotal"`
	MemAvailable uint64          `json:"memAvailable"`
	RecentErrors []logging.Entry `json:"recentErrors"`
}

// Handlers holds the HTTP handlers of the scaler.
type Handlers struct {
	pipeline   *scaler.Pipeline
	cache      *dircache.Cache
	jobs       *jobs.Center[*imgproc.Result]
	identifier *auth.Identifier
}

// caller identifies the client. A bad token is reported to the client
// rather than silently downgraded to anonymous.
func (h *Handlers) caller(r *http.Request) (auth.Caller, error) {
	addr := realip.FromRequest(r)
	if h.identifier == nil {
		return auth.Caller{Addr: addr}, nil
	}
	return h.identifier.Identify(r.Header.Get("Authorization"), addr)
}

// HandleScale handles GET /scale?fn=<path>&pn=<page>&...
func (h *Handlers) HandleScale(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	c, err := h.caller(r)
	if err != nil {
		l.Warn("scale: bad credentials", "err", err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	params := scaler.ParseParams(r.URL.Query())
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		// answer revalidations from the key alone
		key, ok, err := h.pipeline.Key(params, c)
		if err == nil && ok && strconv.Quote(key) == inm {
			metrics.RecordScaleRequest("notmodified")
			w.Header().Set("ETag", inm)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	res, err := h.pipeline.Process(r.Context(), params, c)
	if err != nil {
		writeError(w, err, params.Path)
		return
	}

	if res.File != nil {
		serveFile(w, r, res.Ticket.Path, res.File, res.Ticket.Raw)
		return
	}

	w.Header().Set("ETag", strconv.Quote(res.Key))
	w.Header().Set("Content-Type", res.Image.Mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Image.Data)))
	w.Header().Set("X-Image-Size", fmt.Sprintf("%dx%d", res.Image.Width, res.Image.Height))
	if r.Method == http.MethodHead {
		return
	}
	w.Write(res.Image.Data) //nolint:errcheck
}

// serveFile streams an unmodified source. Failures are reported under the
// logical path cp; the real path only goes to the log.
func serveFile(w http.ResponseWriter, r *http.Request, cp string, f *dircache.ImageFile, raw bool) {
	fi, err := f.Stat()
	if err != nil {
		logging.Sub("handlers").Warn("source vanished", "file", f.Path, "err", err)
		writeError(w, errs.ErrNotFound, cp)
		return
	}
	rd, err := f.Open()
	if err != nil {
		logging.Sub("handlers").Warn("source unreadable", "file", f.Path, "err", err)
		writeError(w, errs.ErrNotFound, cp)
		return
	}
	defer rd.Close()

	name := filepath.Base(f.Path)
	if raw {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	} else if f.Mime != "" {
		w.Header().Set("Content-Type", f.Mime)
	}
	http.ServeContent(w, r, name, fi.ModTime(), rd)
}

// HandleText handles GET /text?fn=<path>&pn=<page>
func (h *Handlers) HandleText(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	c, err := h.caller(r)
	if err != nil {
		l.Warn("text: bad credentials", "err", err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("pn"))
	if err != nil {
		page = 1
	}
	fn := q.Get("fn")
	fe, err := h.pipeline.Text(fn, page, c)
	if err != nil {
		writeError(w, err, fn)
		return
	}

	fsys := h.cache.Fs()
	fi, err := fsys.Stat(fe.Path)
	if err != nil {
		l.Warn("text vanished", "file", fe.Path, "err", err)
		writeError(w, errs.ErrNotFound, fn)
		return
	}
	f, err := fsys.Open(fe.Path)
	if err != nil {
		l.Warn("text unreadable", "file", fe.Path, "err", err)
		writeError(w, errs.ErrNotFound, fn)
		return
	}
	defer f.Close()
	if fe.Mime != "" {
		w.Header().Set("Content-Type", fe.Mime)
	}
	http.ServeContent(w, r, fe.Name(), fi.ModTime(), f)
}

// HandleStats handles GET /api/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	l := logging.Sub("handlers")
	l.Debug("HTTP stats")

	resp := StatsResponse{
		Cache:        h.cache.Stats(),
		JobsRunning:  h.jobs.Running(),
		JobsWaiting:  h.jobs.Waiting(),
		Workers:      h.jobs.Config().Workers,
		MaxWaiting:   h.jobs.Config().MaxWaiting,
		ResultCached: h.pipeline.ResultCacheLen(),
		RecentErrors: logging.RecentErrors(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemTotal = vm.Total
		resp.MemAvailable = vm.Available
	} else {
		l.Debug("stats: memory unavailable", "err", err)
	}
	if resp.RecentErrors == nil {
		resp.RecentErrors = []logging.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// statusOf maps an outcome to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrOverload):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError answers with the status of err. Bodies name the path the client
// asked for and never the error text, which may carry real file paths.
func writeError(w http.ResponseWriter, err error, fn string) {
	status := statusOf(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	msg := http.StatusText(status)
	if status == http.StatusBadRequest || status == http.StatusNotFound {
		msg += ": " + fn
	}
	http.Error(w, msg, status)
}
