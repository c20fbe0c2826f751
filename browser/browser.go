// Package browser drives a headless Chromium through the DevTools protocol
// and exposes its screencast as a frame source.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/hashicorp/go-hclog"

	"go2tv.app/browserstream/frame"
)

const (
	DefaultQuality = 80
	eventBuffer    = 16
)

var ErrNotStarted = errors.New("browser session not started")

type Options struct {
	ExecPath     string
	URL          string
	Width        uint32
	Height       uint32
	StartupDelay time.Duration
	NoSandbox    bool
	Quality      int64
	Logger       hclog.Logger
}

// Session is one browser process showing one page with the screencast
// running.
type Session struct {
	width  uint32
	height uint32
	logger hclog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	events    chan frame.Event
	closeOnce sync.Once
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(int(opts.Width), int(opts.Height)),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)
	if strings.TrimSpace(opts.ExecPath) != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	return allocOpts
}

// Launch starts the browser, loads opts.URL, waits opts.StartupDelay for the
// page to settle and starts the screencast. Cancelling ctx aborts the launch
// but does not tear down an established session; use Close for that.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	if opts.Width == 0 || opts.Height == 0 {
		return nil, fmt.Errorf("%w: viewport %dx%d", frame.ErrInvalidDimensions, opts.Width, opts.Height)
	}
	if opts.Quality <= 0 {
		opts.Quality = DefaultQuality
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, allocatorOptions(opts)...)
	bctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { logger.Trace(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) }),
	)

	s := &Session{
		width:       opts.Width,
		height:      opts.Height,
		logger:      logger,
		ctx:         bctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		events:      make(chan frame.Event),
	}

	abort := func() {
		cancel()
		allocCancel()
	}
	stop := context.AfterFunc(ctx, abort)
	defer stop()

	logger.Info("launching browser", "path", opts.ExecPath, "url", opts.URL, "no_sandbox", opts.NoSandbox)
	if err := chromedp.Run(bctx,
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height), chromedp.EmulateScale(1)),
		chromedp.Navigate(opts.URL),
	); err != nil {
		abort()
		return nil, launchErr(ctx, fmt.Errorf("failed loading %s: %w", opts.URL, err))
	}

	if opts.StartupDelay > 0 {
		t := time.NewTimer(opts.StartupDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			abort()
			return nil, ctx.Err()
		}
	}

	raw := make(chan frame.Event, eventBuffer)
	chromedp.ListenTarget(bctx, func(ev any) {
		forwardScreencastFrame(bctx, ev, raw)
	})
	go relay(bctx, raw, s.events)

	start := page.StartScreencast().
		WithFormat(page.ScreencastFormatJpeg).
		WithQuality(opts.Quality).
		WithMaxWidth(int64(opts.Width)).
		WithMaxHeight(int64(opts.Height)).
		WithEveryNthFrame(1)
	if err := chromedp.Run(bctx, start); err != nil {
		abort()
		return nil, launchErr(ctx, fmt.Errorf("failed to start screencast: %w", err))
	}

	return s, nil
}

func launchErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

// forwardScreencastFrame runs on the CDP event goroutine.
func forwardScreencastFrame(ctx context.Context, ev any, out chan<- frame.Event) {
	f, ok := ev.(*page.EventScreencastFrame)
	if !ok {
		return
	}
	select {
	case out <- frame.Event{ID: f.SessionID, Payload: f.Data}:
	case <-ctx.Done():
	}
}

// relay closes out once the browser context ends so consumers observe the
// end of the stream.
func relay(ctx context.Context, raw <-chan frame.Event, out chan<- frame.Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-raw:
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Session) Events() <-chan frame.Event {
	return s.events
}

func (s *Session) Ack(ctx context.Context, id int64) error {
	return s.run(ctx, page.ScreencastFrameAck(id))
}

func (s *Session) Decode(ev frame.Event) (*frame.RawFrame, error) {
	return frame.Decode(ev.Payload, s.width, s.height)
}

func (s *Session) Reload(ctx context.Context) error {
	return s.run(ctx, page.Reload())
}

func (s *Session) Stop(ctx context.Context) error {
	return s.run(ctx, page.StopScreencast())
}

// Close shuts the browser down, waiting at most until ctx ends before the
// process is killed.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()

		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("browser close: %w", ctx.Err())
		}
		s.cancel()
		s.allocCancel()
	})
	return err
}

// run executes CDP actions against the session target, bounded by ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s == nil || s.ctx == nil {
		return ErrNotStarted
	}
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return ErrNotStarted
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("browser session closed: %w", err)
	}

	ectx := cdp.WithExecutor(ctx, c.Target)
	for _, a := range actions {
		if err := a.Do(ectx); err != nil {
			return err
		}
	}
	return nil
}
