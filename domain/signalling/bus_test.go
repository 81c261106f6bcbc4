package signalling

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBus_PublishDeliversInOrder(t *testing.T) {
	bus := NewBus(newTestLogger())

	var got []string
	unsub := bus.Subscribe(func(ev Event) {
		got = append(got, ev.EventKind())
	})
	defer unsub()

	bus.Publish(Joined{})
	bus.Publish(CallStateChanged{CallID: "c1", State: "connected"})
	bus.Publish(Left{})

	assert.Equal(t, []string{"joined", "call_state", "left"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(newTestLogger())

	count := 0
	unsub := bus.Subscribe(func(Event) { count++ })
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Publish(Joined{})
	unsub()
	bus.Publish(Joined{})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Unsubscribing twice is harmless, even with a newer subscriber present.
	bus.Subscribe(func(Event) {})
	unsub()
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(newTestLogger())

	a, b := 0, 0
	bus.Subscribe(func(Event) { a++ })
	bus.Subscribe(func(Event) { b++ })

	bus.Publish(Joined{})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
