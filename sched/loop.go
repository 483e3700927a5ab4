// Package sched is the cooperative scheduler the map runs on.
//
// All map state (view, caches, tile states) is owned by a single goroutine, the
// one that calls RunPending and RunIdle. Other goroutines (fetch workers,
// timers) never touch that state directly; they hand closures to the loop with
// Post, and the owner runs them between frames.
package sched

import (
	"sync"
	"time"

	"github.com/olablt/slippymap/pkg/logger"
)

// Scheduler is the subset of Loop the tile core depends on.
type Scheduler interface {
	// Post queues fn to run on the loop goroutine at the start of the next frame.
	// Safe to call from any goroutine.
	Post(fn func())
	// Defer queues fn to run at the next idle point between frames. It reports
	// false when the idle queue is full or the loop is closed.
	Defer(fn func()) bool
	// After runs fn on the loop goroutine once d has elapsed. The returned
	// function stops the timer; fn may still run if it was already posted.
	After(d time.Duration, fn func()) (stop func() bool)
	// RequestFrame asks the host to render another frame.
	RequestFrame()
}

const defaultMaxIdle = 256

type Loop struct {
	mu      sync.Mutex
	posted  []func()
	idle    []func()
	maxIdle int
	frame   bool
	closed  bool

	wake   chan struct{}
	logger logger.Logger
}

var _ Scheduler = (*Loop)(nil)

type Option func(*Loop)

// WithMaxIdle bounds the deferred task queue.
func WithMaxIdle(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIdle = n
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(l *Loop) {
		l.logger = logger.OrNop(log)
	}
}

func New(opts ...Option) *Loop {
	l := &Loop{
		maxIdle: defaultMaxIdle,
		wake:    make(chan struct{}, 1),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) Defer(fn func()) bool {
	l.mu.Lock()
	if l.closed || len(l.idle) >= l.maxIdle {
		l.mu.Unlock()
		return false
	}
	l.idle = append(l.idle, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

func (l *Loop) After(d time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return t.Stop
}

func (l *Loop) RequestFrame() {
	l.mu.Lock()
	l.frame = true
	l.mu.Unlock()
	l.signal()
}

// TakeFrameRequest reports whether a frame was requested since the last call
// and clears the request.
func (l *Loop) TakeFrameRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := l.frame
	l.frame = false
	return f
}

// Wake delivers a value whenever new work or a frame request arrives. Hosts
// use it to invalidate their window.
func (l *Loop) Wake() <-chan struct{} {
	return l.wake
}

// RunPending runs every task posted before the call. Tasks posted while it runs
// wait for the next call.
func (l *Loop) RunPending() int {
	l.mu.Lock()
	batch := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range batch {
		l.run(fn)
	}
	return len(batch)
}

// RunIdle drains deferred tasks in FIFO order until the queue is empty or the
// deadline passes. At least one task runs per call so the queue always makes
// progress.
func (l *Loop) RunIdle(deadline time.Time) int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.idle) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.idle[0]
		l.idle[0] = nil
		l.idle = l.idle[1:]
		l.mu.Unlock()

		l.run(fn)
		n++
		if !deadline.IsZero() && time.Now().After(deadline) {
			return n
		}
	}
}

// Pending reports the number of posted and deferred tasks waiting to run.
func (l *Loop) Pending() (posted, idle int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.posted), len(l.idle)
}

// Close drops queued work and makes Post and Defer no-ops.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.posted = nil
	l.idle = nil
	l.mu.Unlock()
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("scheduled task panicked", "panic", r)
		}
	}()
	fn()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
