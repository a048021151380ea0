// Package eventbus provides a simple publish/subscribe event bus. The
// capability engine publishes a message whenever roles or user capabilities
// change, so that other components can react without polling the store.
package eventbus

import (
	"context"
	"time"

	"github.com/dpup/capable/plugin"
)

// Constant name for identifying the eventbus plugin.
const PluginName = "eventbus"

// Handler is called for each message delivered to a subscriber.
type Handler func(context.Context, *Message) error

// Message is a single delivery of a published event.
type Message struct {
	ID          string
	Topic       string
	Data        any
	PublishedAt time.Time
}

// NewMessage returns a message for the given topic.
func NewMessage(id, topic string, data any) *Message {
	return &Message{ID: id, Topic: topic, Data: data, PublishedAt: time.Now()}
}

// EventBus provides a simple publish/subscribe interface.
type EventBus interface {
	// Subscribe to a topic. The handler will be called when a message is
	// published. Errors are logged. Handlers should assume that they may be
	// called concurrently.
	Subscribe(topic string, handler Handler)

	// Publish a message to all subscribers of the topic. Delivery is
	// asynchronous.
	Publish(topic string, data any)

	// Wait for the bus to finish delivering pending messages or for ctx to be
	// done.
	Wait(ctx context.Context) error

	// Shutdown stops accepting work and waits for pending deliveries.
	Shutdown(ctx context.Context) error
}

// Plugin registers an eventbus for use by other plugins.
func Plugin(eb EventBus) *EventBusPlugin {
	return &EventBusPlugin{EventBus: eb}
}

// EventBusPlugin provides access to an event bus for plugins and components to
// communicate with each other.
type EventBusPlugin struct {
	EventBus
}

var (
	_ plugin.Plugin         = (*EventBusPlugin)(nil)
	_ plugin.ShutdownPlugin = (*EventBusPlugin)(nil)
)

// From plugin.Plugin.
func (p *EventBusPlugin) Name() string {
	return PluginName
}
