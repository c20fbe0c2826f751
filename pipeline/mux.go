package pipeline

import (
	"time"

	"go2tv.app/browserstream/control"
	"go2tv.app/browserstream/frame"
)

type wakeKind int

// Declaration order is service priority.
const (
	wakeTick wakeKind = iota
	wakeFrame
	wakeStats
	wakeCommand
	wakeShutdown
	wakeDeadline
	wakeDuration
	wakeKinds
)

type wakeup struct {
	kind wakeKind

	event   frame.Event
	command control.Command
	// ok is false when the frame or command channel was closed.
	ok bool
}

// mux picks exactly one ready source per call, highest priority first. A nil
// channel never becomes ready.
type mux struct {
	tick     <-chan time.Time
	events   <-chan frame.Event
	stats    <-chan time.Time
	commands <-chan control.Command
	done     <-chan struct{}
	deadline <-chan time.Time
	duration <-chan time.Time

	// pending holds a wakeup already received by the blocking select but
	// not yet served because a higher priority source became ready too.
	pending *wakeup
}

func (m *mux) next() wakeup {
	if w, ok := m.poll(); ok {
		return w
	}

	w := m.block()
	m.pending = &w
	w, _ = m.poll()
	return w
}

// disarmDeadline stops the deadline source for good, including an expiry
// already held in pending.
func (m *mux) disarmDeadline() {
	m.deadline = nil
	if m.pending != nil && m.pending.kind == wakeDeadline {
		m.pending = nil
	}
}

func (m *mux) poll() (wakeup, bool) {
	for k := wakeKind(0); k < wakeKinds; k++ {
		if m.pending != nil && m.pending.kind == k {
			w := *m.pending
			m.pending = nil
			return w, true
		}
		if w, ok := m.try(k); ok {
			return w, true
		}
	}
	return wakeup{}, false
}

func (m *mux) try(k wakeKind) (wakeup, bool) {
	switch k {
	case wakeTick:
		select {
		case <-m.tick:
			return wakeup{kind: wakeTick}, true
		default:
		}
	case wakeFrame:
		select {
		case ev, ok := <-m.events:
			return wakeup{kind: wakeFrame, event: ev, ok: ok}, true
		default:
		}
	case wakeStats:
		select {
		case <-m.stats:
			return wakeup{kind: wakeStats}, true
		default:
		}
	case wakeCommand:
		select {
		case cmd, ok := <-m.commands:
			return wakeup{kind: wakeCommand, command: cmd, ok: ok}, true
		default:
		}
	case wakeShutdown:
		select {
		case <-m.done:
			return wakeup{kind: wakeShutdown}, true
		default:
		}
	case wakeDeadline:
		select {
		case <-m.deadline:
			return wakeup{kind: wakeDeadline}, true
		default:
		}
	case wakeDuration:
		select {
		case <-m.duration:
			return wakeup{kind: wakeDuration}, true
		default:
		}
	}
	return wakeup{}, false
}

func (m *mux) block() wakeup {
	select {
	case <-m.tick:
		return wakeup{kind: wakeTick}
	case ev, ok := <-m.events:
		return wakeup{kind: wakeFrame, event: ev, ok: ok}
	case <-m.stats:
		return wakeup{kind: wakeStats}
	case cmd, ok := <-m.commands:
		return wakeup{kind: wakeCommand, command: cmd, ok: ok}
	case <-m.done:
		return wakeup{kind: wakeShutdown}
	case <-m.deadline:
		return wakeup{kind: wakeDeadline}
	case <-m.duration:
		return wakeup{kind: wakeDuration}
	}
}
