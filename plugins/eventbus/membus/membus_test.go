package membus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed(t *testing.T) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return logging.With(t.Context(), logging.FromZap(core)), logs
}

func TestBus_BasicPubSub(t *testing.T) {
	ctx := logging.EnsureLogger(t.Context())
	bus := New(ctx)

	var got *eventbus.Message
	bus.Subscribe("caps.role.added", func(ctx context.Context, msg *eventbus.Message) error {
		got = msg
		return nil
	})

	bus.Publish("caps.role.added", "editor")
	require.NoError(t, bus.Wait(ctx))

	require.NotNil(t, got)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "caps.role.added", got.Topic)
	assert.Equal(t, "editor", got.Data)
	assert.False(t, got.PublishedAt.IsZero())
}

func TestBus_NoSubscribers(t *testing.T) {
	ctx := logging.EnsureLogger(t.Context())
	bus := New(ctx)
	bus.Publish("caps.role.removed", "editor")
	assert.NoError(t, bus.Wait(ctx))
}

func TestBus_MultipleSubscribers(t *testing.T) {
	ctx := logging.EnsureLogger(t.Context())
	bus := New(ctx)

	var (
		mu     sync.Mutex
		called []int
		ids    = map[string]bool{}
	)
	for i := range 10 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, i)
			ids[msg.ID] = true
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(ctx))

	slices.Sort(called) // Execution order isn't guaranteed.
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, called)
	assert.Len(t, ids, 10, "each delivery has its own id")
}

func TestBus_WaitTimeout(t *testing.T) {
	bus := New(logging.EnsureLogger(t.Context()))

	release := make(chan struct{})
	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		<-release
		return nil
	})
	bus.Publish("topic", "hello")

	ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond)
	defer cancel()
	require.Error(t, bus.Wait(ctx))

	close(release)
	require.NoError(t, bus.Wait(t.Context()))
}

func TestBus_SubscriberError(t *testing.T) {
	ctx, logs := observed(t)
	bus := New(ctx)

	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		return errors.New("subscriber error")
	})
	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(ctx))

	entries := logs.FilterMessage("eventbus: handler error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "eventbus.topic", entries[0].LoggerName)
}

func TestBus_SubscriberPanic(t *testing.T) {
	ctx, logs := observed(t)
	bus := New(ctx)

	bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
		panic("subscriber panic")
	})
	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(ctx))

	assert.Equal(t, 1, logs.FilterMessage("eventbus: recovered from panic").Len())
}

func TestBus_WorkerPoolLimit(t *testing.T) {
	ctx := logging.EnsureLogger(t.Context())
	bus := New(ctx, WithWorkerPool(4))

	var (
		mu            sync.Mutex
		concurrent    int
		maxConcurrent int
		called        int
	)
	for range 50 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			mu.Lock()
			concurrent++
			called++
			maxConcurrent = max(maxConcurrent, concurrent)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(ctx))

	assert.Equal(t, 50, called)
	assert.LessOrEqual(t, maxConcurrent, 4, "should not exceed worker pool size")
}

func TestBus_UnboundedMode(t *testing.T) {
	ctx := logging.EnsureLogger(t.Context())
	bus := New(ctx, WithWorkerPool(0))

	var (
		mu     sync.Mutex
		called int
	)
	for range 10 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			mu.Lock()
			called++
			mu.Unlock()
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Wait(ctx))
	assert.Equal(t, 10, called)
}

func TestBus_GracefulShutdown(t *testing.T) {
	ctx, logs := observed(t)
	bus := New(ctx, WithWorkerPool(2))

	var (
		mu        sync.Mutex
		completed int
	)
	for range 20 {
		bus.Subscribe("topic", func(ctx context.Context, msg *eventbus.Message) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			completed++
			mu.Unlock()
			return nil
		})
	}

	bus.Publish("topic", "hello")
	require.NoError(t, bus.Shutdown(ctx))
	assert.Equal(t, 20, completed, "pending deliveries complete before shutdown returns")

	bus.Publish("topic", "late")
	require.NoError(t, bus.Shutdown(ctx), "shutdown is idempotent")
	assert.Equal(t, 1, logs.FilterMessage("eventbus: dropping message published after shutdown").Len())
}

func TestPlugin(t *testing.T) {
	p := eventbus.Plugin(New(logging.EnsureLogger(t.Context())))
	assert.Equal(t, eventbus.PluginName, p.Name())
	require.NoError(t, p.Shutdown(t.Context()))
}

func TestBus_FullQueueDoesNotBlockSubscribers(t *testing.T) {
	ctx := logging.EnsureLogger(t.Context())
	bus := New(ctx, WithWorkerPool(1), WithQueueSize(1))

	started := make(chan struct{}, 3)
	release := make(chan struct{})
	var (
		mu     sync.Mutex
		called int
	)
	bus.Subscribe("caps.role.added", func(ctx context.Context, msg *eventbus.Message) error {
		started <- struct{}{}
		<-release
		mu.Lock()
		called++
		mu.Unlock()
		return nil
	})

	bus.Publish("caps.role.added", 1) // Occupies the only worker.
	<-started
	bus.Publish("caps.role.added", 2) // Fills the queue.
	go bus.Publish("caps.role.added", 3)
	time.Sleep(10 * time.Millisecond)

	subscribed := make(chan struct{})
	go func() {
		bus.Subscribe("caps.role.removed", func(context.Context, *eventbus.Message) error { return nil })
		close(subscribed)
	}()
	select {
	case <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked behind a publisher waiting on a full queue")
	}

	close(release)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return called == 3
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Shutdown(waitCtx))
}
