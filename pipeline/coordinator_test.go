package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/browserstream/control"
	"go2tv.app/browserstream/frame"
)

const (
	testFPS           = 10
	testTick          = 100 * time.Millisecond
	testStats         = 5 * time.Second
	testFirstFrame    = 30 * time.Second
	testDuration      = time.Hour
	testResultTimeout = 2 * time.Second
)

type result struct {
	stats Stats
	err   error
}

type harness struct {
	clock    *fakeClock
	src      *fakeSource
	enc      *fakeEncoder
	commands chan control.Command
	observed chan Stats
	cancel   context.CancelFunc
	done     chan result
}

func newHarness(t *testing.T, enc *fakeEncoder, src *fakeSource, configure func(*Options)) *harness {
	t.Helper()
	if enc == nil {
		enc = &fakeEncoder{}
	}
	if src == nil {
		src = newFakeSource()
	}

	h := &harness{
		clock:    newFakeClock(),
		src:      src,
		enc:      enc,
		commands: make(chan control.Command, 4),
		observed: make(chan Stats, 16),
		done:     make(chan result, 1),
	}

	opts := Options{
		FPS:               testFPS,
		FirstFrameTimeout: testFirstFrame,
		StatsInterval:     testStats,
		Clock:             h.clock,
		Logger:            hclog.NewNullLogger(),
		Observer:          func(s Stats) { h.observed <- s },
	}
	if configure != nil {
		configure(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)

	c := New(src, enc, h.commands, opts)
	go func() {
		s, err := c.Run(ctx)
		h.done <- result{stats: s, err: err}
	}()
	return h
}

func (h *harness) send(id int64, payload string) {
	h.src.events <- frame.Event{ID: id, Payload: payload}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.True(t, h.clock.ticker(testTick).Fire(), "previous tick still pending")
}

// barrier fires the stats tick and waits for the observer. Every tick and
// frame queued before it has been served by the time it returns.
func (h *harness) barrier(t *testing.T) Stats {
	t.Helper()
	require.True(t, h.clock.ticker(testStats).Fire(), "previous stats tick still pending")
	select {
	case s := <-h.observed:
		return s
	case r := <-h.done:
		t.Fatalf("coordinator exited early: %v", r.err)
	case <-time.After(testResultTimeout):
		t.Fatal("stats observer not called")
	}
	return Stats{}
}

func (h *harness) wait(t *testing.T) result {
	t.Helper()
	select {
	case r := <-h.done:
		return r
	case <-time.After(testResultTimeout):
		t.Fatal("coordinator did not exit")
	}
	return result{}
}

func (h *harness) assertRunning(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.done:
		t.Fatalf("coordinator exited: %v", r.err)
	default:
	}
}

func TestFirstFrameWrittenImmediately(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.send(7, "a")
	s := h.barrier(t)

	assert.Equal(t, Stats{Decoded: 1, Encoded: 1, HasFrame: true}, s)
	assert.Equal(t, "a", h.enc.written())
	acked, _, _, _ := h.src.counts()
	assert.Equal(t, []int64{7}, acked)

	h.cancel()
	r := h.wait(t)
	assert.ErrorIs(t, r.err, ErrShutdown)
}

func TestTickWithoutFrameWritesNothing(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.tick(t)
	h.barrier(t)
	h.tick(t)
	s := h.barrier(t)

	assert.Equal(t, Stats{}, s)
	assert.Empty(t, h.enc.written())

	h.cancel()
	h.wait(t)
}

func TestLatchedFrameRepeatsUntilReplaced(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.send(1, "a")
	h.barrier(t)
	for i := 0; i < 3; i++ {
		h.tick(t)
		h.barrier(t)
	}
	assert.Equal(t, "aaaa", h.enc.written())

	h.send(2, "b")
	h.barrier(t)
	h.tick(t)
	s := h.barrier(t)

	assert.Equal(t, "aaaab", h.enc.written())
	assert.Equal(t, Stats{Decoded: 2, Encoded: 5, HasFrame: true}, s)

	h.cancel()
	r := h.wait(t)
	assert.ErrorIs(t, r.err, ErrShutdown)
	assert.Equal(t, uint64(5), r.stats.Encoded)
}

func TestTickServedBeforePendingFrame(t *testing.T) {
	enc := &fakeEncoder{
		gateAt:  2,
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	h := newHarness(t, enc, nil, nil)

	h.send(1, "a")
	h.barrier(t)

	// Hold the loop inside a tick write while a frame and the next tick
	// both become ready.
	h.tick(t)
	select {
	case <-enc.entered:
	case <-time.After(testResultTimeout):
		t.Fatal("tick write not started")
	}
	h.send(2, "b")
	h.tick(t)
	close(enc.gate)

	s := h.barrier(t)
	assert.Equal(t, "aaa", h.enc.written())
	assert.Equal(t, Stats{Decoded: 2, Encoded: 3, HasFrame: true}, s)

	h.cancel()
	h.wait(t)
}

func TestShutdownSwallowsCleanupErrors(t *testing.T) {
	src := newFakeSource()
	src.stopErr = errors.New("target closed")
	src.closeErr = errors.New("browser gone")
	h := newHarness(t, nil, src, nil)

	h.send(1, "a")
	h.barrier(t)
	h.cancel()

	r := h.wait(t)
	require.ErrorIs(t, r.err, ErrShutdown)
	assert.NotErrorIs(t, r.err, src.stopErr)

	_, _, stops, closes := src.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, closes)
}

func TestFirstFrameDeadline(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	require.True(t, h.clock.timer(testFirstFrame).Fire())
	r := h.wait(t)

	assert.ErrorIs(t, r.err, ErrFirstFrameTimeout)
	assert.Equal(t, Stats{}, r.stats)
	_, _, stops, closes := h.src.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, closes)
}

func TestDeadlineDisarmedAfterFirstFrame(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.send(1, "a")
	h.barrier(t)

	assert.False(t, h.clock.timer(testFirstFrame).Fire())
	h.barrier(t)
	h.assertRunning(t)

	h.cancel()
	r := h.wait(t)
	assert.ErrorIs(t, r.err, ErrShutdown)
}

func TestStreamEnded(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	close(h.src.events)
	r := h.wait(t)

	assert.ErrorIs(t, r.err, ErrStreamEnded)
}

func TestAckFailureIsTerminal(t *testing.T) {
	src := newFakeSource()
	src.ackErr = errors.New("session detached")
	h := newHarness(t, nil, src, nil)

	h.send(3, "a")
	r := h.wait(t)

	assert.ErrorIs(t, r.err, src.ackErr)
	assert.Empty(t, h.enc.written())
	assert.Equal(t, uint64(0), r.stats.Decoded)
}

func TestDecodeFailureIsTerminalAfterAck(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.send(4, "bad")
	r := h.wait(t)

	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "failed to decode screencast frame")
	acked, _, _, _ := h.src.counts()
	assert.Equal(t, []int64{4}, acked)
	assert.Empty(t, h.enc.written())
}

func TestWriteFailureIsTerminal(t *testing.T) {
	enc := &fakeEncoder{err: errors.New("broken pipe")}
	h := newHarness(t, enc, nil, nil)

	h.send(1, "a")
	r := h.wait(t)

	assert.ErrorIs(t, r.err, enc.err)
	assert.Equal(t, uint64(0), r.stats.Encoded)
	assert.Equal(t, uint64(1), r.stats.Decoded)
}

func TestRefreshCommandReloads(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	h.commands <- control.Refresh
	h.commands <- control.Help
	require.Eventually(t, func() bool {
		_, reloads, _, _ := h.src.counts()
		return reloads == 1
	}, testResultTimeout, 5*time.Millisecond)

	h.cancel()
	assert.ErrorIs(t, h.wait(t).err, ErrShutdown)
}

func TestRefreshFailureIsTerminal(t *testing.T) {
	src := newFakeSource()
	src.reloadErr = errors.New("navigation failed")
	h := newHarness(t, nil, src, nil)

	h.commands <- control.Refresh
	r := h.wait(t)

	assert.ErrorIs(t, r.err, src.reloadErr)
	assert.Contains(t, r.err.Error(), "manual refresh failed")
}

func TestClosedCommandsKeepStreaming(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	close(h.commands)
	h.send(1, "a")
	h.barrier(t)
	h.tick(t)
	s := h.barrier(t)

	assert.Equal(t, uint64(2), s.Encoded)
	h.assertRunning(t)

	h.cancel()
	assert.ErrorIs(t, h.wait(t).err, ErrShutdown)
}

func TestDurationEndsAttemptSuccessfully(t *testing.T) {
	h := newHarness(t, nil, nil, func(o *Options) { o.MaxDuration = testDuration })

	h.send(1, "a")
	h.barrier(t)
	require.True(t, h.clock.timer(testDuration).Fire())

	r := h.wait(t)
	require.NoError(t, r.err)
	assert.Equal(t, Stats{Decoded: 1, Encoded: 1, HasFrame: true}, r.stats)
	_, _, stops, closes := h.src.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, closes)
}

func TestUsageSampledOnlyForDebugLogs(t *testing.T) {
	quiet := &fakeEncoder{}
	h := newHarness(t, quiet, nil, nil)
	h.barrier(t)
	h.barrier(t)
	assert.Zero(t, quiet.usageCalls.Load())
	h.cancel()
	h.wait(t)

	verbose := &fakeEncoder{}
	h = newHarness(t, verbose, nil, func(o *Options) {
		o.Logger = hclog.New(&hclog.LoggerOptions{Level: hclog.Debug, Output: io.Discard})
	})
	h.barrier(t)
	h.barrier(t)
	assert.Equal(t, int32(2), verbose.usageCalls.Load())
	h.cancel()
	h.wait(t)
}

func TestFrameInterval(t *testing.T) {
	c := New(newFakeSource(), &fakeEncoder{}, nil, Options{FPS: 30})
	assert.Equal(t, time.Second/30, c.FrameInterval())

	c = New(newFakeSource(), &fakeEncoder{}, nil, Options{})
	assert.Equal(t, time.Second, c.FrameInterval())
}
