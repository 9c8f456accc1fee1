// Package scaler turns scale requests into results: it resolves the page,
// checks authorization, serves originals directly when it can and hands
// everything else to the job center.
package scaler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagescaler/pagescaler/auth"
	"github.com/pagescaler/pagescaler/dircache"
	"github.com/pagescaler/pagescaler/docpath"
	"github.com/pagescaler/pagescaler/errs"
	"github.com/pagescaler/pagescaler/imgproc"
	"github.com/pagescaler/pagescaler/jobs"
	"github.com/pagescaler/pagescaler/logging"
	"github.com/pagescaler/pagescaler/metrics"
)

// Config wires a Pipeline to its collaborators.
type Config struct {
	Cache  *dircache.Cache
	Jobs   *jobs.Center[*imgproc.Result]
	Engine imgproc.Engine
	// Auth may be nil, in which case nothing is restricted.
	Auth auth.Checker
	// SendFileAllowed permits the "file" and "rawfile" options.
	SendFileAllowed bool
	// ResultTTL and ResultCapacity size the result cache. Zero disables it.
	ResultTTL      time.Duration
	ResultCapacity uint64
}

// Pipeline processes scale and text requests.
type Pipeline struct {
	cache    *dircache.Cache
	jobs     *jobs.Center[*imgproc.Result]
	engine   imgproc.Engine
	auth     auth.Checker
	sendFile bool
	results  *resultCache
}

// Result is the outcome of a scale request. Exactly one of File and Image
// is set.
type Result struct {
	Ticket *Ticket
	// File is the unmodified source to send.
	File *dircache.ImageFile
	// Image is the rendered output.
	Image *imgproc.Result
	// Key identifies a rendered output; it is empty for files.
	Key    string
	Cached bool
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Cache == nil || cfg.Jobs == nil || cfg.Engine == nil {
		return nil, errors.New("scaler: cache, job center and engine are required")
	}
	return &Pipeline{
		cache:    cfg.Cache,
		jobs:     cfg.Jobs,
		engine:   cfg.Engine,
		auth:     cfg.Auth,
		sendFile: cfg.SendFileAllowed,
		results:  newResultCache(cfg.ResultTTL, cfg.ResultCapacity),
	}, nil
}

// Close stops the result cache.
func (p *Pipeline) Close() {
	p.results.stop()
}

// Describe resolves the request and builds its ticket without doing any
// pixel work.
func (p *Pipeline) Describe(params Params, caller auth.Caller) (*Ticket, error) {
	cp, err := docpath.Canonicalize(params.Path)
	if err != nil {
		return nil, err
	}
	e, err := p.cache.GetFile(cp, params.Page, docpath.ClassImage)
	if err != nil {
		return nil, err
	}
	if err := p.authorize(cp, caller); err != nil {
		return nil, err
	}
	is, ok := e.(*dircache.ImageSet)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an image", errs.ErrNotFound, cp)
	}
	return newTicket(cp, is, params, p.sendFile)
}

// Process serves a scale request. Originals that need no pixel work are
// returned as files without touching the job center; everything else is
// rendered by a job, unless the job center is busy, in which case
// errs.ErrOverload is returned at once.
func (p *Pipeline) Process(ctx context.Context, params Params, caller auth.Caller) (*Result, error) {
	l := logging.Sub("scaler")
	start := time.Now()

	res, err := p.process(ctx, params, caller)
	outcome := outcomeOf(res, err)
	metrics.RecordScaleRequest(outcome)

	switch {
	case err == nil:
		if logging.Enabled(slog.LevelDebug) {
			l.Debug("request done", "path", params.Path, "page", params.Page, "outcome", outcome, "elapsed", time.Since(start))
		}
	case errors.Is(err, errs.ErrOverload):
		l.Warn("overloaded, request refused", "path", params.Path, "running", p.jobs.Running(), "waiting", p.jobs.Waiting())
	case errors.Is(err, errs.ErrTransform):
		l.Error("transform failed", "path", params.Path, "page", params.Page, "err", err)
	default:
		l.Info("request failed", "path", params.Path, "page", params.Page, "outcome", outcome, "err", err)
	}
	return res, err
}

func (p *Pipeline) process(ctx context.Context, params Params, caller auth.Caller) (*Result, error) {
	t, err := p.Describe(params, caller)
	if err != nil {
		return nil, err
	}
	if t.SendAsIs {
		return &Result{Ticket: t, File: t.Source}, nil
	}

	key, err := keyOf(t)
	if err != nil {
		return nil, err
	}
	if img, ok := p.results.get(key); ok {
		return &Result{Ticket: t, Image: img, Key: key, Cached: true}, nil
	}

	if p.jobs.IsBusy() {
		return nil, errs.ErrOverload
	}
	job, err := p.jobs.Submit(t.Path, p.render(t))
	if errors.Is(err, jobs.ErrClosed) {
		return nil, fmt.Errorf("%w: %v", errs.ErrOverload, err)
	}
	if err != nil {
		return nil, err
	}

	img, err := job.Wait(ctx)
	if err != nil {
		return nil, err
	}
	p.results.set(key, img)
	return &Result{Ticket: t, Image: img, Key: key}, nil
}

// Key returns the key the rendered result of a request is known by, without
// rendering it. ok is false when the request is answered with a file.
func (p *Pipeline) Key(params Params, caller auth.Caller) (key string, ok bool, err error) {
	t, err := p.Describe(params, caller)
	if err != nil || t.SendAsIs {
		return "", false, err
	}
	key, err = keyOf(t)
	return key, err == nil, err
}

// keyOf derives the result key from the source file and the manifest.
func keyOf(t *Ticket) (string, error) {
	fi, err := t.Source.Stat()
	if err != nil {
		return "", &errs.TransformError{Path: t.Source.Path, Err: err}
	}
	return resultKey(t.Source.Path, fi.Size(), fi.ModTime(), t.Manifest), nil
}

// render is the job task for a ticket.
func (p *Pipeline) render(t *Ticket) jobs.Task[*imgproc.Result] {
	return func(ctx context.Context) (*imgproc.Result, error) {
		f, err := t.Source.Open()
		if err != nil {
			return nil, &errs.TransformError{Path: t.Source.Path, Err: err}
		}
		defer f.Close()
		img, err := p.engine.Transform(ctx, f, t.Manifest)
		if err != nil {
			if ctx.Err() != nil {
				return nil, jobs.ErrCancelled
			}
			return nil, &errs.TransformError{Path: t.Source.Path, Err: err}
		}
		return img, nil
	}
}

// Text resolves a text entry: a file path, or page n among the text files of
// a directory.
func (p *Pipeline) Text(path string, page int, caller auth.Caller) (*dircache.FileEntry, error) {
	cp, err := docpath.Canonicalize(path)
	if err != nil {
		return nil, err
	}
	e, err := p.cache.GetFile(cp, max(page, 1), docpath.ClassText)
	if err != nil {
		return nil, err
	}
	if err := p.authorize(cp, caller); err != nil {
		return nil, err
	}
	fe, ok := e.(*dircache.FileEntry)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a text file", errs.ErrNotFound, cp)
	}
	return fe, nil
}

// authorize checks the caller against the rules of the path a request
// resolves to, so an alias grants no more than its target.
func (p *Pipeline) authorize(cp string, caller auth.Caller) error {
	if p.auth == nil {
		return nil
	}
	required := p.auth.RequiredRoles(p.cache.Dealias(cp))
	if auth.Authorized(required, caller) {
		return nil
	}
	if logging.Enabled(slog.LevelDebug) {
		logging.Sub("scaler").Debug("not authorized", "path", cp, "required", required, "caller", caller.Subject, "addr", caller.Addr)
	}
	return fmt.Errorf("%w: %s", errs.ErrUnauthorized, cp)
}

// ResultCacheLen returns the number of cached renders.
func (p *Pipeline) ResultCacheLen() int {
	return p.results.len()
}

func outcomeOf(r *Result, err error) string {
	switch {
	case err == nil && r.File != nil:
		return "file"
	case err == nil && r.Cached:
		return "cached"
	case err == nil:
		return "rendered"
	case errors.Is(err, errs.ErrInvalidPath):
		return "invalid"
	case errors.Is(err, errs.ErrNotFound):
		return "notfound"
	case errors.Is(err, errs.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, errs.ErrOverload):
		return "overload"
	case errors.Is(err, errs.ErrTransform):
		return "transform"
	}
	return "error"
}
