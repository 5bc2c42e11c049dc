package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeByType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 2)
	unsub := bus.Subscribe(DecisionMade, func(e Event) { got <- e })
	defer unsub()

	bus.Publish(Event{Type: RulesReloaded, Data: RulesReloadedData{Version: 3}})
	bus.Publish(Event{Type: DecisionMade, Data: DecisionMadeData{DecisionID: "d-1", Behavior: "deny"}})

	select {
	case e := <-got:
		assert.Equal(t, DecisionMade, e.Type)
		assert.Equal(t, "d-1", e.Data.(DecisionMadeData).DecisionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}

	select {
	case e := <-got:
		t.Fatalf("unexpected %s delivered to a decision subscriber", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var seen sync.Map
	var wg sync.WaitGroup
	wg.Add(3)
	unsub := bus.SubscribeAll(func(e Event) {
		seen.Store(e.Type, true)
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: DecisionMade})
	bus.Publish(Event{Type: SettingsChanged, Data: SettingsChangedData{Path: "/p/.claude/settings.json", Op: "WRITE"}})
	bus.Publish(Event{Type: PermissionResolved})

	waitGroup(t, &wg)
	for _, typ := range []EventType{DecisionMade, SettingsChanged, PermissionResolved} {
		_, ok := seen.Load(typ)
		assert.True(t, ok, typ)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var typed, all atomic.Int32
	unsubTyped := bus.Subscribe(DecisionMade, func(Event) { typed.Add(1) })
	unsubAll := bus.SubscribeAll(func(Event) { all.Add(1) })

	bus.PublishSync(Event{Type: DecisionMade})
	unsubTyped()
	unsubAll()
	unsubAll()
	bus.PublishSync(Event{Type: DecisionMade})

	assert.EqualValues(t, 1, typed.Load())
	assert.EqualValues(t, 1, all.Load())
}

func TestBus_PublishSyncOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var order []string
	bus.Subscribe(PermissionRequired, func(Event) { order = append(order, "typed") })
	bus.SubscribeAll(func(Event) { order = append(order, "all") })

	bus.PublishSync(Event{Type: PermissionRequired, Data: PermissionRequiredData{ID: "r-1"}})

	assert.Equal(t, []string{"typed", "all"}, order)
}

func TestBus_Closed(t *testing.T) {
	bus := NewBus()
	var count atomic.Int32
	bus.SubscribeAll(func(Event) { count.Add(1) })

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	bus.PublishSync(Event{Type: DecisionMade})
	unsub := bus.Subscribe(DecisionMade, func(Event) { count.Add(1) })
	unsub()

	assert.Zero(t, count.Load())
}

func TestBus_Stream(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := bus.Stream(ctx)
	require.NoError(t, err)

	bus.Publish(Event{Type: DecisionMade, Data: DecisionMadeData{DecisionID: "d-7", SessionID: "s-1", ToolName: "Bash", Behavior: "allow"}})

	var msg *message.Message
	select {
	case msg = <-msgs:
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for stream message")
	}

	assert.Equal(t, string(DecisionMade), msg.Metadata.Get(MetaType))
	assert.Equal(t, "s-1", msg.Metadata.Get(MetaSession))

	var body struct {
		Type       EventType        `json:"type"`
		Properties DecisionMadeData `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &body))
	assert.Equal(t, DecisionMade, body.Type)
	assert.Equal(t, "d-7", body.Properties.DecisionID)
	assert.Equal(t, "Bash", body.Properties.ToolName)
}

func TestBus_StreamClosedWithBus(t *testing.T) {
	bus := NewBus()
	msgs, err := bus.Stream(context.Background())
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

func TestGlobalBus_Reset(t *testing.T) {
	Reset()
	var count atomic.Int32
	Subscribe(RulesReloaded, func(Event) { count.Add(1) })

	PublishSync(Event{Type: RulesReloaded, Data: RulesReloadedData{Version: 1}})
	require.EqualValues(t, 1, count.Load())

	Reset()
	PublishSync(Event{Type: RulesReloaded, Data: RulesReloadedData{Version: 2}})
	assert.EqualValues(t, 1, count.Load())
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(DecisionMade, func(Event) {})
			defer unsub()
			for j := 0; j < 10; j++ {
				bus.Publish(Event{Type: DecisionMade})
			}
		}()
	}
	waitGroup(t, &wg)
}

func TestSessionOf(t *testing.T) {
	assert.Equal(t, "s-1", SessionOf(Event{Data: DecisionMadeData{SessionID: "s-1"}}))
	assert.Equal(t, "s-2", SessionOf(Event{Data: PermissionRequiredData{SessionID: "s-2"}}))
	assert.Empty(t, SessionOf(Event{Data: RulesReloadedData{Version: 1}}))
	assert.Empty(t, SessionOf(Event{Data: PermissionResolvedData{ID: "r-1"}}))
}

func TestInSession(t *testing.T) {
	mine := message.Metadata{MetaSession: "s-1"}
	other := message.Metadata{MetaSession: "s-2"}
	none := message.Metadata{}

	assert.True(t, InSession(mine, "s-1"))
	assert.False(t, InSession(other, "s-1"))
	assert.True(t, InSession(none, "s-1"))
	assert.True(t, InSession(other, ""))
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
}
