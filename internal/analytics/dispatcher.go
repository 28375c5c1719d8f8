// Package analytics fans funnel events out to fire-and-forget sinks.
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"funnel-engine/internal/model"
)

// Sink delivers one event. Errors are logged and dropped.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev model.TrackEvent) error
}

// Dispatcher queues events for a single delivery worker. Track never blocks:
// when the queue is full the event is dropped.
type Dispatcher struct {
	sinks   []Sink
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan model.TrackEvent
	done    chan struct{}
	dropped atomic.Int64
}

type Option func(*Dispatcher)

func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan model.TrackEvent, n)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithSendTimeout bounds each sink call.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		logger:  zap.NewNop(),
		timeout: 2 * time.Second,
		queue:   make(chan model.TrackEvent, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Track enqueues ev for delivery.
func (d *Dispatcher) Track(_ context.Context, ev model.TrackEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Debug("analytics queue full, dropping event", zap.String("event", ev.Name))
	}
}

// Dropped returns how many events were lost to a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events, delivers what is queued and waits for the
// worker to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Send(ctx, ev); err != nil {
				d.logger.Debug("analytics sink failed",
					zap.String("sink", s.Name()),
					zap.String("event", ev.Name),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}
