// Package event provides a pub/sub event system for permission activity.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// EventType represents the type of event.
type EventType string

const (
	DecisionMade       EventType = "decision.made"
	RulesReloaded      EventType = "rules.reloaded"
	SettingsChanged    EventType = "settings.changed"
	PermissionRequired EventType = "permission.required"
	PermissionResolved EventType = "permission.resolved"
)

// Topic is the watermill topic every published event is mirrored to.
const Topic = "toolguard.events"

// Metadata keys of mirrored messages.
const (
	MetaType    = "type"
	MetaSession = "session"
)

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Payload is the JSON body of a mirrored message.
type Payload struct {
	Type       EventType `json:"type"`
	Properties any       `json:"properties"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type handler struct {
	id uint64
	// nil matches every type
	only *EventType
	fn   Subscriber
}

// Bus delivers typed events to in-process subscribers and mirrors each one
// as a JSON message on a watermill gochannel for streaming consumers.
type Bus struct {
	mu       sync.RWMutex
	handlers []handler
	nextID   atomic.Uint64
	closed   bool

	stream *gochannel.GoChannel
}

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	return &Bus{
		stream: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
	}
}

var global atomic.Pointer[Bus]

func init() {
	global.Store(NewBus())
}

func (b *Bus) add(only *EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID.Add(1)
	b.handlers = append(b.handlers, handler{id: id, only: only, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Subscribe registers fn for one event type and returns its unsubscribe
// function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	return b.add(&eventType, fn)
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.add(nil, fn)
}

// targets returns the subscribers of t, or ok=false once the bus is closed.
func (b *Bus) targets(t EventType) (subs []Subscriber, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	for _, h := range b.handlers {
		if h.only == nil || *h.only == t {
			subs = append(subs, h.fn)
		}
	}
	return subs, true
}

// Publish mirrors e to the stream and calls each subscriber in its own
// goroutine.
func (b *Bus) Publish(e Event) {
	subs, ok := b.targets(e.Type)
	if !ok {
		return
	}
	b.mirror(e)
	for _, fn := range subs {
		go fn(e)
	}
}

// PublishSync is Publish with subscribers called in the current goroutine.
func (b *Bus) PublishSync(e Event) {
	subs, ok := b.targets(e.Type)
	if !ok {
		return
	}
	b.mirror(e)
	for _, fn := range subs {
		fn(e)
	}
}

func (b *Bus) mirror(e Event) {
	body, err := json.Marshal(Payload{Type: e.Type, Properties: e.Data})
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewULID(), body)
	msg.Metadata.Set(MetaType, string(e.Type))
	if session := SessionOf(e); session != "" {
		msg.Metadata.Set(MetaSession, session)
	}
	_ = b.stream.Publish(Topic, msg)
}

// Stream subscribes to the mirrored messages until ctx ends. Each message
// must be acked before the next one is delivered.
func (b *Bus) Stream(ctx context.Context) (<-chan *message.Message, error) {
	return b.stream.Subscribe(ctx, Topic)
}

// Close drops every subscriber and closes the stream.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = nil
	b.mu.Unlock()

	return b.stream.Close()
}

// Subscribe registers fn on the global bus.
func Subscribe(eventType EventType, fn Subscriber) func() {
	return global.Load().Subscribe(eventType, fn)
}

// SubscribeAll registers fn for every event on the global bus.
func SubscribeAll(fn Subscriber) func() {
	return global.Load().SubscribeAll(fn)
}

// Publish publishes e on the global bus.
func Publish(e Event) {
	global.Load().Publish(e)
}

// PublishSync publishes e on the global bus and waits for the subscribers.
func PublishSync(e Event) {
	global.Load().PublishSync(e)
}

// Stream subscribes to the global bus's mirrored messages.
func Stream(ctx context.Context) (<-chan *message.Message, error) {
	return global.Load().Stream(ctx)
}

// Reset replaces the global bus with an empty one (for testing).
func Reset() {
	old := global.Swap(NewBus())
	_ = old.Close()
}

// InSession reports whether a mirrored message should reach a client
// following sessionID. Messages of no session reach everybody.
func InSession(md message.Metadata, sessionID string) bool {
	if sessionID == "" {
		return true
	}
	s := md.Get(MetaSession)
	return s == "" || s == sessionID
}
