// Package membus provides an in-memory implementation of eventbus.EventBus
// backed by a bounded worker pool.
package membus

import (
	"context"
	"slices"
	"sync"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/eventbus"
	"github.com/google/uuid"
)

// Option configures the bus.
type Option func(*Bus)

// WithWorkerPool sets the number of worker goroutines for delivering messages.
// Default is 16 workers. Set to 0 to use a goroutine per delivery.
func WithWorkerPool(size int) Option {
	return func(b *Bus) {
		b.workers = size
	}
}

// WithQueueSize sets how many deliveries may be buffered before Publish
// blocks.
func WithQueueSize(size int) Option {
	return func(b *Bus) {
		b.queueSize = size
	}
}

// New returns a new in-memory EventBus. ctx is passed to handlers, scoped to
// a logger named after the topic.
func New(ctx context.Context, opts ...Option) *Bus {
	b := &Bus{
		subscriberCtx: logging.Scope(ctx, "eventbus"),
		workers:       16,
		queueSize:     256,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.jobs = make(chan job, b.queueSize)
	return b
}

type job struct {
	ctx     context.Context
	handler eventbus.Handler
	msg     *eventbus.Message
}

// Bus is an in-memory implementation of EventBus.
type Bus struct {
	subscribers   map[string][]eventbus.Handler
	subscriberCtx context.Context

	mu      sync.Mutex     // Protects subscribers and lifecycle state.
	wg      sync.WaitGroup // Pending deliveries.
	sending sync.WaitGroup // Publish calls still sending to jobs.

	jobs      chan job
	workers   int
	queueSize int
	started   bool
	closed    bool
}

var _ eventbus.EventBus = (*Bus)(nil)

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, handler eventbus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = make(map[string][]eventbus.Handler)
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish sends a message to all subscribers. Messages published after
// Shutdown are dropped. Publish blocks while the queue is full, but never
// holds the subscriber lock while doing so.
func (b *Bus) Publish(topic string, data any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		logging.Warnw(b.subscriberCtx, "eventbus: dropping message published after shutdown", "topic", topic)
		return
	}
	if !b.started {
		b.startWorkers()
		b.started = true
	}
	handlers := slices.Clone(b.subscribers[topic])
	if len(handlers) == 0 {
		b.mu.Unlock()
		return
	}
	b.wg.Add(len(handlers))
	b.sending.Add(1)
	b.mu.Unlock()
	defer b.sending.Done()

	ctx := logging.Scope(b.subscriberCtx, topic)
	logging.Debugw(ctx, "publishing message", "subscribers", len(handlers))

	for _, handler := range handlers {
		msg := eventbus.NewMessage(uuid.NewString(), topic, data)
		if b.workers == 0 {
			go b.execute(ctx, handler, msg)
		} else {
			b.jobs <- job{ctx: ctx, handler: handler, msg: msg}
		}
	}
}

func (b *Bus) startWorkers() {
	for range b.workers {
		go func() {
			for j := range b.jobs {
				b.execute(j.ctx, j.handler, j.msg)
			}
		}()
	}
}

// Shutdown closes the job channel and waits for pending deliveries.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	closing := !b.closed
	b.closed = true
	b.mu.Unlock()

	if closing {
		// In-flight publishers must finish sending before the channel closes.
		b.sending.Wait()
		close(b.jobs)
	}
	return b.Wait(ctx)
}

// Wait blocks until all pending messages are processed.
func (b *Bus) Wait(ctx context.Context) error {
	c := make(chan struct{})
	go func() {
		defer close(c)
		b.wg.Wait()
	}()
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return errors.New("eventbus: timeout waiting for handlers to finish")
	}
}

func (b *Bus) execute(ctx context.Context, handler eventbus.Handler, msg *eventbus.Message) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Wrap(r, 2)
			logging.Errorw(ctx, "eventbus: recovered from panic",
				"error", r, "error.stack_trace", string(err.Stack()))
		}
		b.wg.Done()
	}()
	if err := handler(ctx, msg); err != nil {
		logging.Errorw(ctx, "eventbus: handler error", "error", err, "message_id", msg.ID)
	}
}
