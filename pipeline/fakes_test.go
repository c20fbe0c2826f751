package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/browserstream/encoder"
	"go2tv.app/browserstream/frame"
)

type fakeClock struct {
	mu      sync.Mutex
	tickers map[time.Duration]*fakeTicker
	timers  map[time.Duration]*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		tickers: make(map[time.Duration]*fakeTicker),
		timers:  make(map[time.Duration]*fakeTimer),
	}
}

func (c *fakeClock) ticker(d time.Duration) *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tickers[d]
	if !ok {
		t = &fakeTicker{ch: make(chan time.Time, 1)}
		c.tickers[d] = t
	}
	return t
}

func (c *fakeClock) timer(d time.Duration) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.timers[d]
	if !ok {
		t = &fakeTimer{ch: make(chan time.Time, 1)}
		c.timers[d] = t
	}
	return t
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker { return c.ticker(d) }
func (c *fakeClock) NewTimer(d time.Duration) Timer   { return c.timer(d) }

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// Fire delivers a tick unless one is already pending.
func (t *fakeTicker) Fire() bool {
	select {
	case t.ch <- time.Now():
		return true
	default:
		return false
	}
}

type fakeTimer struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }
func (t *fakeTimer) Stop() bool          { return !t.stopped.Swap(true) }

func (t *fakeTimer) Fire() bool {
	if t.stopped.Load() {
		return false
	}
	select {
	case t.ch <- time.Now():
		return true
	default:
		return false
	}
}

type fakeSource struct {
	events chan frame.Event

	ackErr    error
	reloadErr error
	stopErr   error
	closeErr  error

	mu      sync.Mutex
	acked   []int64
	reloads int
	stops   int
	closes  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan frame.Event, 8)}
}

func (s *fakeSource) Events() <-chan frame.Event { return s.events }

func (s *fakeSource) Ack(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, id)
	return s.ackErr
}

// Decode yields a 1x1 frame whose red channel is the payload's first byte.
func (s *fakeSource) Decode(ev frame.Event) (*frame.RawFrame, error) {
	if ev.Payload == "bad" || ev.Payload == "" {
		return nil, errors.New("corrupt jpeg")
	}
	return &frame.RawFrame{Width: 1, Height: 1, Pixels: []byte{ev.Payload[0], 0, 0}}, nil
}

func (s *fakeSource) Reload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	return s.reloadErr
}

func (s *fakeSource) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return s.stopErr
}

func (s *fakeSource) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.closeErr
}

func (s *fakeSource) counts() (acked []int64, reloads, stops, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.acked...), s.reloads, s.stops, s.closes
}

type fakeEncoder struct {
	err error

	// gateAt blocks the n-th write (1-based) until gate is closed.
	gateAt  int
	entered chan struct{}
	gate    chan struct{}

	mu     sync.Mutex
	writes []byte

	usageCalls atomic.Int32
}

func (e *fakeEncoder) Usage(context.Context) (encoder.Usage, error) {
	e.usageCalls.Add(1)
	return encoder.Usage{CPUPercent: 12.5, RSSBytes: 64 << 20}, nil
}

func (e *fakeEncoder) Write(f *frame.RawFrame) error {
	if e.err != nil {
		return e.err
	}

	e.mu.Lock()
	e.writes = append(e.writes, f.Pixels[0])
	n := len(e.writes)
	e.mu.Unlock()

	if e.gateAt > 0 && n == e.gateAt {
		e.entered <- struct{}{}
		<-e.gate
	}
	return nil
}

// written returns the red channel of every frame written so far.
func (e *fakeEncoder) written() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.writes)
}
