package scaler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagescaler/pagescaler/auth"
	"github.com/pagescaler/pagescaler/dircache"
	"github.com/pagescaler/pagescaler/errs"
	"github.com/pagescaler/pagescaler/imgproc"
	"github.com/pagescaler/pagescaler/jobs"
)

// fakeEngine records calls and optionally blocks until released.
type fakeEngine struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (e *fakeEngine) Transform(ctx context.Context, src io.Reader, m imgproc.Manifest) (*imgproc.Result, error) {
	e.calls.Add(1)
	if _, err := io.ReadAll(src); err != nil {
		return nil, err
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return &imgproc.Result{Data: []byte("rendered"), Mime: "image/" + m.Format, Width: m.Width, Height: m.Height}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func writeFile(t *testing.T, fsys afero.Fs, p string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, p, data, 0644))
}

func libraryFs(t *testing.T) afero.Fs {
	fsys := afero.NewMemMapFs()
	// contents are never read when a page is sent as is
	writeFile(t, fsys, "/base/book/page1.jpg", []byte("jpeg"))
	writeFile(t, fsys, "/base/book/notes.txt", []byte("hello"))
	writeFile(t, fsys, "/base/scans/p1.png", pngBytes(t, 40, 30))
	writeFile(t, fsys, "/base/scans/p2.png", pngBytes(t, 40, 30))
	writeFile(t, fsys, "/lores/scans/p1.png", pngBytes(t, 8, 6))
	writeFile(t, fsys, "/base/restricted/p1.jpg", []byte("jpeg"))
	writeFile(t, fsys, "/base/restricted/notes.txt", []byte("secret"))
	writeFile(t, fsys, "/auth.yaml", []byte("paths:\n  - path: restricted\n    roles: [admin]\n"))
	return fsys
}

type pipelineOpts struct {
	workers, waiting int
	resultTTL        time.Duration
	sendFile         bool
	aliases          map[string]string
}

func newPipeline(t *testing.T, fsys afero.Fs, engine imgproc.Engine, o pipelineOpts) (*Pipeline, *jobs.Center[*imgproc.Result]) {
	t.Helper()
	cache, err := dircache.New(dircache.Config{
		Fs:       fsys,
		BaseDirs: []string{"/base", "/lores"},
		Aliases:  o.aliases,
	})
	require.NoError(t, err)
	center, err := jobs.New[*imgproc.Result](jobs.Config{Workers: max(o.workers, 1), MaxWaiting: o.waiting})
	require.NoError(t, err)
	t.Cleanup(func() { center.ShutdownNow() })
	rules, err := auth.LoadRules(fsys, "/auth.yaml")
	require.NoError(t, err)

	p, err := New(Config{
		Cache:           cache,
		Jobs:            center,
		Engine:          engine,
		Auth:            rules,
		SendFileAllowed: o.sendFile,
		ResultTTL:       o.resultTTL,
		ResultCapacity:  16,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, center
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestProcess_SendsOriginalWithoutJob(t *testing.T) {
	engine := &fakeEngine{}
	p, center := newPipeline(t, libraryFs(t), engine, pipelineOpts{})

	res, err := p.Process(context.Background(), DefaultParams("book"), auth.Caller{})
	require.NoError(t, err)
	require.NotNil(t, res.File)
	assert.Nil(t, res.Image)
	assert.Equal(t, "/base/book/page1.jpg", res.File.Path)
	assert.True(t, res.Ticket.SendAsIs)
	assert.False(t, res.Ticket.TransformRequired)

	assert.Zero(t, engine.calls.Load())
	assert.Zero(t, center.Running())
	assert.Zero(t, center.Waiting())
}

func TestProcess_FileOption(t *testing.T) {
	engine := &fakeEngine{}
	params := DefaultParams("scans/p1.png")
	params.DW = 10
	params.Options = []string{OptRawFile}

	p, _ := newPipeline(t, libraryFs(t), engine, pipelineOpts{})
	res, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	require.NotNil(t, res.Image, "file options are ignored unless allowed")

	p, _ = newPipeline(t, libraryFs(t), engine, pipelineOpts{sendFile: true})
	res, err = p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	require.NotNil(t, res.File)
	assert.Equal(t, "/base/scans/p1.png", res.File.Path)
	assert.True(t, res.Ticket.Raw)
}

func TestProcess_Renders(t *testing.T) {
	engine := &fakeEngine{}
	p, _ := newPipeline(t, libraryFs(t), engine, pipelineOpts{})

	params := DefaultParams("scans")
	params.Page = 2
	params.DW = 20

	res, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	require.NotNil(t, res.Image)
	assert.Nil(t, res.File)
	assert.NotEmpty(t, res.Key)
	assert.False(t, res.Cached)

	m := res.Ticket.Manifest
	assert.Equal(t, 20, m.Width)
	assert.Equal(t, 15, m.Height)
	assert.Equal(t, "png", m.Format)
	assert.Equal(t, "/base/scans/p2.png", res.Ticket.Source.Path)
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestProcess_PicksSmallestSufficientCopy(t *testing.T) {
	p, _ := newPipeline(t, libraryFs(t), &fakeEngine{}, pipelineOpts{})

	params := DefaultParams("scans/p1")
	params.DW = 6
	res, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	assert.Equal(t, "/lores/scans/p1.png", res.Ticket.Source.Path)

	params.Options = []string{OptHires}
	res, err = p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	assert.Equal(t, "/base/scans/p1.png", res.Ticket.Source.Path)
}

func TestProcess_DegenerateCrop(t *testing.T) {
	p, _ := newPipeline(t, libraryFs(t), &fakeEngine{}, pipelineOpts{})

	empty := DefaultParams("scans/p1.png")
	empty.WW = 0
	empty.DW = 20
	res, err := p.Process(context.Background(), empty, auth.Caller{})
	require.NoError(t, err)
	m := res.Ticket.Manifest
	assert.Equal(t, "/base/scans/p1.png", res.Ticket.Source.Path)
	assert.Equal(t, 1.0, m.CropW, "an empty crop selects the whole width")
	assert.Equal(t, 20, m.Width)
	assert.Equal(t, 15, m.Height)

	overhang := DefaultParams("scans/p1.png")
	overhang.WX = 0.5
	overhang.WW = 0.8
	overhang.DW = 10
	res, err = p.Process(context.Background(), overhang, auth.Caller{})
	require.NoError(t, err)
	m = res.Ticket.Manifest
	assert.Equal(t, "/base/scans/p1.png", res.Ticket.Source.Path)
	assert.Equal(t, 0.5, m.CropX)
	assert.Equal(t, 0.5, m.CropW, "the crop stops at the right edge")
	assert.Equal(t, 10, m.Width)
	assert.Equal(t, 15, m.Height)
}

func TestKey(t *testing.T) {
	engine := &fakeEngine{}
	p, center := newPipeline(t, libraryFs(t), engine, pipelineOpts{})

	params := DefaultParams("scans/p1.png")
	params.DW = 20
	key, ok, err := p.Key(params, auth.Caller{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, engine.calls.Load())
	assert.Zero(t, center.Running()+center.Waiting())

	res, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	assert.Equal(t, res.Key, key)

	_, ok, err = p.Key(DefaultParams("book"), auth.Caller{})
	require.NoError(t, err)
	assert.False(t, ok, "files have no result key")

	_, _, err = p.Key(DefaultParams("restricted"), auth.Caller{})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestProcess_ExactSizeSentAsIs(t *testing.T) {
	engine := &fakeEngine{}
	p, _ := newPipeline(t, libraryFs(t), engine, pipelineOpts{})

	params := DefaultParams("scans/p1.png")
	params.DW = 8
	params.DH = 6
	res, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	require.NotNil(t, res.File)
	assert.Equal(t, "/lores/scans/p1.png", res.File.Path)
	assert.Zero(t, engine.calls.Load())
}

func TestProcess_RealEngine(t *testing.T) {
	p, _ := newPipeline(t, libraryFs(t), imgproc.Imaging{}, pipelineOpts{})

	params := DefaultParams("scans/p2")
	params.DH = 15
	params.Options = []string{OptJPEG}
	res, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	require.NotNil(t, res.Image)
	assert.Equal(t, "image/jpeg", res.Image.Mime)
	assert.Equal(t, 20, res.Image.Width)
	assert.Equal(t, 15, res.Image.Height)
}

func TestProcess_ResultCache(t *testing.T) {
	engine := &fakeEngine{}
	p, _ := newPipeline(t, libraryFs(t), engine, pipelineOpts{resultTTL: time.Minute})

	params := DefaultParams("scans/p2.png")
	params.DW = 10

	first, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	second, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, int32(1), engine.calls.Load())
	assert.Equal(t, 1, p.ResultCacheLen())

	params.DW = 12
	third, err := p.Process(context.Background(), params, auth.Caller{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Key, third.Key)
	assert.Equal(t, int32(2), engine.calls.Load())
}

func TestProcess_OverloadRejectsBeforeSubmit(t *testing.T) {
	engine := &fakeEngine{release: make(chan struct{})}
	p, center := newPipeline(t, libraryFs(t), engine, pipelineOpts{workers: 1})

	params := DefaultParams("scans/p1.png")
	params.DW = 20

	done := make(chan error, 1)
	go func() {
		_, err := p.Process(context.Background(), params, auth.Caller{})
		done <- err
	}()
	require.Eventually(t, func() bool { return engine.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, center.IsBusy())

	params.DW = 30
	_, err := p.Process(context.Background(), params, auth.Caller{})
	assert.ErrorIs(t, err, errs.ErrOverload)
	assert.Equal(t, int32(1), engine.calls.Load())

	close(engine.release)
	require.NoError(t, <-done)
}

func TestProcess_ClosedCenterIsOverload(t *testing.T) {
	p, center := newPipeline(t, libraryFs(t), &fakeEngine{}, pipelineOpts{workers: 1, waiting: 2})
	center.ShutdownNow()

	params := DefaultParams("scans/p1.png")
	params.DW = 20
	_, err := p.Process(context.Background(), params, auth.Caller{})
	assert.ErrorIs(t, err, errs.ErrOverload)
}

func TestProcess_Errors(t *testing.T) {
	p, _ := newPipeline(t, libraryFs(t), &fakeEngine{}, pipelineOpts{})

	osize := DefaultParams("scans/p1.png")
	osize.Options = []string{OptOSize}
	osize.DDPIX, osize.DDPIY = 96, 96

	tests := []struct {
		name   string
		params Params
		caller auth.Caller
		want   error
	}{
		{"escaping path", DefaultParams("../etc"), auth.Caller{}, errs.ErrInvalidPath},
		{"missing dir", DefaultParams("nothing"), auth.Caller{}, errs.ErrNotFound},
		{"page out of range", Params{Path: "book", Page: 5, WW: 1, WH: 1, WS: 1}, auth.Caller{}, errs.ErrNotFound},
		{"text file", DefaultParams("book/notes.txt"), auth.Caller{}, errs.ErrNotFound},
		{"restricted", DefaultParams("restricted"), auth.Caller{Roles: []string{"reader"}}, errs.ErrUnauthorized},
		{"unknown resolution", osize, auth.Caller{}, errs.ErrTransform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tt.params, tt.caller)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	res, err := p.Process(context.Background(), DefaultParams("restricted"), auth.Caller{Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.NotNil(t, res.File)
}

func TestProcess_AliasKeepsTargetRules(t *testing.T) {
	p, _ := newPipeline(t, libraryFs(t), &fakeEngine{}, pipelineOpts{
		aliases: map[string]string{"pub": "restricted"},
	})
	admin := auth.Caller{Roles: []string{"admin"}}

	for _, path := range []string{"restricted/p1.jpg", "pub/p1.jpg", "pub"} {
		t.Run(path, func(t *testing.T) {
			_, err := p.Process(context.Background(), DefaultParams(path), auth.Caller{})
			assert.ErrorIs(t, err, errs.ErrUnauthorized)

			res, err := p.Process(context.Background(), DefaultParams(path), admin)
			require.NoError(t, err)
			assert.Equal(t, "/base/restricted/p1.jpg", res.File.Path)
		})
	}

	_, err := p.Text("pub/notes.txt", 1, auth.Caller{})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	fe, err := p.Text("pub/notes.txt", 1, admin)
	require.NoError(t, err)
	assert.Equal(t, "/base/restricted/notes.txt", fe.Path)
}

func TestProcess_EngineFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.New("corrupt data")}
	p, _ := newPipeline(t, libraryFs(t), engine, pipelineOpts{})

	params := DefaultParams("scans/p1.png")
	params.DW = 20
	_, err := p.Process(context.Background(), params, auth.Caller{})
	require.ErrorIs(t, err, errs.ErrTransform)

	var te *errs.TransformError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "/base/scans/p1.png", te.Path)
}

func TestProcess_CallerGivesUp(t *testing.T) {
	engine := &fakeEngine{release: make(chan struct{})}
	defer close(engine.release)
	p, _ := newPipeline(t, libraryFs(t), engine, pipelineOpts{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	params := DefaultParams("scans/p1.png")
	params.DW = 20
	_, err := p.Process(ctx, params, auth.Caller{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestText(t *testing.T) {
	p, _ := newPipeline(t, libraryFs(t), &fakeEngine{}, pipelineOpts{})

	fe, err := p.Text("book", 1, auth.Caller{})
	require.NoError(t, err)
	assert.Equal(t, "/base/book/notes.txt", fe.Path)

	fe, err = p.Text("book/notes", 0, auth.Caller{})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", fe.Name())

	_, err = p.Text("book", 2, auth.Caller{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = p.Text("book/page1.jpg", 1, auth.Caller{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
