// Package pipeline paces an irregular screenshot stream into a fixed-rate
// encoder feed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"go2tv.app/browserstream/control"
	"go2tv.app/browserstream/encoder"
	"go2tv.app/browserstream/frame"
)

const (
	DefaultStatsInterval  = 5 * time.Second
	DefaultCleanupTimeout = 10 * time.Second
)

var (
	ErrShutdown          = errors.New("shutdown requested")
	ErrFirstFrameTimeout = errors.New("timed out waiting for first screencast frame")
	ErrStreamEnded       = errors.New("screencast event stream ended unexpectedly")
)

// FrameSource is a live screenshot session. Every event received from
// Events must be acknowledged with Ack before the session sends more.
type FrameSource interface {
	Events() <-chan frame.Event
	Ack(ctx context.Context, id int64) error
	Decode(ev frame.Event) (*frame.RawFrame, error)
	Reload(ctx context.Context) error
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
}

// Encoder consumes rgb24 frames.
type Encoder interface {
	Write(f *frame.RawFrame) error
}

type usageReporter interface {
	Usage(ctx context.Context) (encoder.Usage, error)
}

// Stats is a copy of the loop counters.
type Stats struct {
	Decoded  uint64 `json:"decoded_frames"`
	Encoded  uint64 `json:"encoded_frames"`
	HasFrame bool   `json:"has_frame"`
}

type Options struct {
	FPS               uint32
	FirstFrameTimeout time.Duration
	StatsInterval     time.Duration
	// MaxDuration ends the attempt successfully once elapsed. Zero streams
	// until something fails or shutdown is requested.
	MaxDuration    time.Duration
	CleanupTimeout time.Duration

	Clock    Clock
	Logger   hclog.Logger
	Observer func(Stats)
}

type Coordinator struct {
	src      FrameSource
	enc      Encoder
	commands <-chan control.Command
	opts     Options
	logger   hclog.Logger
}

// state is only touched by Run's goroutine.
type state struct {
	latest  *frame.RawFrame
	decoded uint64
	encoded uint64
}

func (s *state) snapshot() Stats {
	return Stats{Decoded: s.decoded, Encoded: s.encoded, HasFrame: s.latest != nil}
}

func New(src FrameSource, enc Encoder, commands <-chan control.Command, opts Options) *Coordinator {
	if opts.FPS == 0 {
		opts.FPS = 1
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = DefaultCleanupTimeout
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Coordinator{
		src:      src,
		enc:      enc,
		commands: commands,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// FrameInterval is the output tick period.
func (c *Coordinator) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.opts.FPS)
}

// Run streams until a terminal condition and returns the final counters.
// A nil error means the configured duration elapsed. The frame source is
// stopped and closed before Run returns, whatever the outcome.
func (c *Coordinator) Run(ctx context.Context) (Stats, error) {
	var st state
	defer c.cleanup(ctx)

	tick := c.opts.Clock.NewTicker(c.FrameInterval())
	defer tick.Stop()
	statsTick := c.opts.Clock.NewTicker(c.opts.StatsInterval)
	defer statsTick.Stop()
	deadline := c.opts.Clock.NewTimer(c.opts.FirstFrameTimeout)
	defer deadline.Stop()

	m := &mux{
		tick:     tick.C(),
		events:   c.src.Events(),
		stats:    statsTick.C(),
		commands: c.commands,
		done:     ctx.Done(),
		deadline: deadline.C(),
	}
	if c.opts.MaxDuration > 0 {
		limit := c.opts.Clock.NewTimer(c.opts.MaxDuration)
		defer limit.Stop()
		m.duration = limit.C()
	}

	for {
		w := m.next()
		switch w.kind {
		case wakeTick:
			if st.latest == nil {
				continue
			}
			if err := c.enc.Write(st.latest); err != nil {
				return st.snapshot(), fmt.Errorf("failed writing frame to encoder: %w", err)
			}
			st.encoded++

		case wakeFrame:
			if !w.ok {
				return st.snapshot(), ErrStreamEnded
			}
			if err := c.src.Ack(ctx, w.event.ID); err != nil {
				return st.snapshot(), fmt.Errorf("failed to ack screencast frame %d: %w", w.event.ID, err)
			}
			f, err := c.src.Decode(w.event)
			if err != nil {
				return st.snapshot(), fmt.Errorf("failed to decode screencast frame: %w", err)
			}
			st.decoded++

			if st.latest == nil {
				c.logger.Info("received first screencast frame")
				if err := c.enc.Write(f); err != nil {
					return st.snapshot(), fmt.Errorf("failed writing first frame to encoder: %w", err)
				}
				st.encoded++
				deadline.Stop()
				m.disarmDeadline()
			}
			st.latest = f

		case wakeStats:
			c.reportStats(ctx, st.snapshot())

		case wakeCommand:
			if !w.ok {
				c.logger.Debug("control input closed, continuing without runtime controls")
				m.commands = nil
				continue
			}
			if err := c.handleCommand(ctx, w.command); err != nil {
				return st.snapshot(), err
			}

		case wakeShutdown:
			return st.snapshot(), ErrShutdown

		case wakeDeadline:
			if st.latest != nil {
				continue
			}
			return st.snapshot(), fmt.Errorf("%w after %s", ErrFirstFrameTimeout, c.opts.FirstFrameTimeout)

		case wakeDuration:
			c.logger.Info("stream duration reached", "duration", c.opts.MaxDuration)
			return st.snapshot(), nil
		}
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, cmd control.Command) error {
	switch cmd {
	case control.Refresh:
		if err := c.src.Reload(ctx); err != nil {
			return fmt.Errorf("manual refresh failed: %w", err)
		}
		c.logger.Info("manual refresh applied")
	case control.Help:
		c.logger.Info(control.HelpText)
	}
	return nil
}

func (c *Coordinator) reportStats(ctx context.Context, s Stats) {
	args := []any{"decoded_frames", s.Decoded, "encoded_frames", s.Encoded, "has_frame", s.HasFrame}
	// Sampling reads /proc on this goroutine; skip it when nobody sees it.
	if r, ok := c.enc.(usageReporter); ok && c.logger.IsDebug() {
		if u, err := r.Usage(ctx); err == nil {
			args = append(args, "ffmpeg_cpu_percent", fmt.Sprintf("%.1f", u.CPUPercent), "ffmpeg_rss_bytes", u.RSSBytes)
		}
	}
	c.logger.Debug("streaming stats", args...)

	if c.opts.Observer != nil {
		c.opts.Observer(s)
	}
}

func (c *Coordinator) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CleanupTimeout)
	defer cancel()

	if err := c.src.Stop(ctx); err != nil {
		c.logger.Warn("failed to stop screencast cleanly", "error", err)
	}
	if err := c.src.Close(ctx); err != nil {
		c.logger.Warn("failed to close browser cleanly", "error", err)
	}
}
