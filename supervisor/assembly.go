package supervisor

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"go2tv.app/browserstream/control"
	"go2tv.app/browserstream/encoder"
	"go2tv.app/browserstream/pipeline"
)

const exitTailBytes = 300

// Encoder is the process side of an attempt.
type Encoder interface {
	pipeline.Encoder
	TerminateAndWait()
	CloseInputAndWait() (int, error)
	StderrTail(n int) string
}

// Assembly wires one encoder, one frame source and a coordinator into an
// attempt. Commands is shared by every attempt.
type Assembly struct {
	SpawnEncoder func(ctx context.Context, logger hclog.Logger) (Encoder, error)
	OpenSource   func(ctx context.Context, logger hclog.Logger) (pipeline.FrameSource, error)
	Commands     <-chan control.Command
	Pipeline     pipeline.Options
}

// RunAttempt spawns the encoder, streams until the coordinator stops and then
// finalizes the encoder. A clean coordinator exit is only a success when the
// encoder also exits with status zero.
func (a *Assembly) RunAttempt(ctx context.Context, at Attempt) error {
	logger := at.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	enc, err := a.SpawnEncoder(ctx, logger.Named("ffmpeg"))
	if err != nil {
		return err
	}

	src, err := a.OpenSource(ctx, logger.Named("browser"))
	if err != nil {
		enc.TerminateAndWait()
		return err
	}

	opts := a.Pipeline
	opts.Logger = logger.Named("pipeline")
	stats, err := pipeline.New(src, enc, a.Commands, opts).Run(ctx)
	logger.Debug("pipeline stopped", "decoded_frames", stats.Decoded, "encoded_frames", stats.Encoded)
	if err != nil {
		enc.TerminateAndWait()
		return err
	}

	code, err := enc.CloseInputAndWait()
	if err != nil {
		return err
	}
	if code != 0 {
		return &encoder.ExitError{Code: code, Stderr: enc.StderrTail(exitTailBytes)}
	}
	logger.Info("ffmpeg exited cleanly")
	return nil
}

// ProcessSpawner adapts encoder.Spawn to Assembly.SpawnEncoder.
func ProcessSpawner(settings encoder.Settings, verbose bool) func(context.Context, hclog.Logger) (Encoder, error) {
	return func(ctx context.Context, logger hclog.Logger) (Encoder, error) {
		p, err := encoder.Spawn(ctx, settings, encoder.Options{Verbose: verbose, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("spawn encoder: %w", err)
		}
		return p, nil
	}
}
