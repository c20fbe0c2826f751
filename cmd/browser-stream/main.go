package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"go2tv.app/browserstream/browser"
	"go2tv.app/browserstream/config"
	"go2tv.app/browserstream/control"
	"go2tv.app/browserstream/encoder"
	"go2tv.app/browserstream/inhibit"
	"go2tv.app/browserstream/internal/logging"
	"go2tv.app/browserstream/pipeline"
	"go2tv.app/browserstream/status"
	"go2tv.app/browserstream/supervisor"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := config.LoadDotEnv(""); err != nil {
		fmt.Fprintf(os.Stderr, "browser-stream: .env: %v\n", err)
	}

	cfg, err := config.Parse(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "browser-stream: %v\n", err)
		return 1
	}

	logger := logging.New("browser-stream", cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exeDir, err := config.ExecutableDir()
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	paths, err := cfg.ResolvePaths(exeDir)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	if err := encoder.Probe(ctx, paths.FFmpeg, !cfg.NoAudio); err != nil {
		logger.Warn("ffmpeg preflight check failed", "error", err)
	}

	settings, err := cfg.EncoderSettings(paths.FFmpeg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	var srv *status.Server
	commandInputs := []<-chan control.Command{control.Listen(os.Stdin, logger.Named("control"))}
	if cfg.StatusAddr != "" {
		srv = status.New(cfg.StatusAddr, logger.Named("status"))
		if err := srv.Start(); err != nil {
			logger.Error("status endpoint failed", "addr", cfg.StatusAddr, "error", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		commandInputs = append(commandInputs, srv.Commands())
	}
	commands := control.Merge(logger.Named("control"), commandInputs...)

	if cfg.InhibitSleep {
		release := acquireInhibit(ctx, logger.Named("inhibit"), cfg.URL)
		defer release()
	}

	asm := &supervisor.Assembly{
		SpawnEncoder: supervisor.ProcessSpawner(settings, cfg.Verbose),
		OpenSource: func(ctx context.Context, logger hclog.Logger) (pipeline.FrameSource, error) {
			s, err := browser.Launch(ctx, browser.Options{
				ExecPath:     paths.Chromium,
				URL:          cfg.URL,
				Width:        cfg.Width,
				Height:       cfg.Height,
				StartupDelay: cfg.StartupDelay(),
				NoSandbox:    cfg.NoSandbox,
				Quality:      int64(cfg.JPEGQuality),
				Logger:       logger,
			})
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Commands: commands,
		Pipeline: pipeline.Options{
			FPS:               cfg.FPS,
			FirstFrameTimeout: cfg.FrameTimeout(),
			StatsInterval:     cfg.StatsInterval,
			MaxDuration:       cfg.Duration,
		},
	}
	if srv != nil {
		asm.Pipeline.Observer = srv.Observe
	}

	sup := supervisor.New(supervisor.RetryPolicy{
		MaxRetries: cfg.Retries,
		Backoff:    cfg.RetryBackoff(),
	}, asm.RunAttempt, logger.Named("supervisor"))
	if srv != nil {
		sup.OnAttempt = func(at supervisor.Attempt) { srv.SetAttempt(at.Number, at.ID) }
	}

	logger.Info("streaming", "url", cfg.URL, "size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height), "fps", cfg.FPS)
	logger.Info("runtime controls: " + control.HelpText)

	outcome, err := sup.Run(ctx)
	if err != nil {
		logger.Error("stream failed", "error", err)
		return 1
	}
	logger.Info("exiting", "outcome", outcome)
	return 0
}

func acquireInhibit(ctx context.Context, logger hclog.Logger, url string) func() {
	inh, err := inhibit.Acquire(ctx, "Streaming "+url)
	if err != nil {
		logger.Debug("sleep inhibition unavailable", "error", err)
		return func() {}
	}
	if v, err := inhibit.Version(); err == nil {
		logger.Debug("sleep inhibited", "portal_version", v, "handle", inh.Handle())
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := inh.Release(releaseCtx); err != nil {
			logger.Debug("failed to release sleep inhibition", "error", err)
		}
	}
}
