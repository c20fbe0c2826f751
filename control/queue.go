package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Queue is a bounded command buffer that never blocks the sender. When full
// the oldest pending command is discarded.
type Queue struct {
	mu     sync.Mutex
	ch     chan Command
	closed bool

	logger      hclog.Logger
	dropped     atomic.Uint64
	lastDropLog atomic.Int64
}

func NewQueue(size int, logger hclog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Queue{
		ch:     make(chan Command, size),
		logger: logger,
	}
}

// C is closed after Close once buffered commands are drained.
func (q *Queue) C() <-chan Command {
	return q.ch
}

// Send enqueues cmd and reports whether the queue was still open.
func (q *Queue) Send(cmd Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	select {
	case q.ch <- cmd:
		return true
	default:
	}

	// Full: drop oldest. Send is the only writer, so the retry has room.
	select {
	case old := <-q.ch:
		total := q.dropped.Add(1)
		if shouldLog(&q.lastDropLog, time.Second) {
			q.logger.Debug("dropped stale command", "command", old, "total", total)
		}
	default:
	}

	select {
	case q.ch <- cmd:
	default:
		q.dropped.Add(1)
	}
	return true
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func shouldLog(last *atomic.Int64, period time.Duration) bool {
	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
