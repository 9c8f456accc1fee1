package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/pagescaler/pagescaler/auth"
	"github.com/pagescaler/pagescaler/dircache"
	scalerhttp "github.com/pagescaler/pagescaler/http"
	"github.com/pagescaler/pagescaler/imgproc"
	"github.com/pagescaler/pagescaler/jobs"
	"github.com/pagescaler/pagescaler/logging"
	"github.com/pagescaler/pagescaler/meta"
	"github.com/pagescaler/pagescaler/scaler"
	"github.com/pagescaler/pagescaler/settings"
)

const shutdownTimeout = 10 * time.Second

// newCache builds the directory cache described by s.
func newCache(fsys afero.Fs, s *settings.Settings) (*dircache.Cache, error) {
	return dircache.New(dircache.Config{
		Fs:              fsys,
		BaseDirs:        s.BaseDirs,
		MetaFile:        s.MetaFile,
		IgnoreFile:      s.IgnoreFile,
		Loader:          meta.YAMLLoader{},
		RecheckInterval: s.Recheck,
		Aliases:         s.Aliases,
	})
}

func serve(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logging.Init(s.LogDir, s.LogLevel)
	l := logging.Sub("serve")
	fsys := afero.NewOsFs()

	for i, dir := range s.BaseDirs {
		if _, err := fsys.Stat(dir); err != nil {
			if i == 0 {
				return fmt.Errorf("primary base dir: %w", err)
			}
			l.Warn("scaled base dir unavailable", "dir", dir, "err", err)
		}
	}

	cache, err := newCache(fsys, s)
	if err != nil {
		return err
	}
	rules, err := auth.LoadRules(fsys, s.AuthFile)
	if err != nil {
		return err
	}
	center, err := jobs.New[*imgproc.Result](jobs.Config{
		Workers:    s.Workers,
		MaxWaiting: s.MaxWaiting,
		BusyMargin: s.BusyMargin,
	})
	if err != nil {
		return err
	}
	pipeline, err := scaler.New(scaler.Config{
		Cache:           cache,
		Jobs:            center,
		Engine:          imgproc.Imaging{JPEGQuality: s.JPEGQuality},
		Auth:            rules,
		SendFileAllowed: s.SendFile,
		ResultTTL:       s.ResultTTL,
		ResultCapacity:  s.ResultSize,
	})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.Watch {
		go dircache.NewRefresher(cache).Run(ctx)
	}

	srv := &http.Server{
		Addr: s.Listen(),
		Handler: scalerhttp.NewHandler(scalerhttp.Deps{
			Pipeline:   pipeline,
			Cache:      cache,
			Jobs:       center,
			Identifier: auth.NewIdentifier(s.JWTSecret, rules),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("server listening", "addr", srv.Addr, "basedirs", s.BaseDirs,
			"workers", s.Workers, "maxWaiting", s.MaxWaiting, "watch", s.Watch)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		center.ShutdownNow()
		return err
	case <-ctx.Done():
	}

	l.Info("shutting down")
	abandoned := center.ShutdownNow()
	for _, j := range abandoned {
		l.Warn("abandoned queued job", "job", j.Name, "id", j.ID, "queuedFor", time.Since(j.Submitted))
	}
	l.Info("job center stopped", "abandoned", len(abandoned), "stillRunning", center.Running())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
