package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnReceivesMatchingEventsOnly(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []Event
	b.On("inserted", func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	b.Emit("inserted", map[string]interface{}{"id": "1"})
	b.Emit("deleted", map[string]interface{}{"id": "2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "inserted", got[0].Name)
	assert.Equal(t, "1", got[0].Payload["id"])
}

func TestOnAnyReceivesEveryEvent(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	names := make(map[string]bool)
	b.OnAny(func(e Event) {
		mu.Lock()
		names[e.Name] = true
		mu.Unlock()
	})

	b.Emit("inserted", nil)
	b.Emit("deleted", nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) == 2
	}, time.Second, time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	count := 0
	unsub := b.On("inserted", func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Emit("inserted", nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, time.Millisecond)

	unsub()
	b.Emit("inserted", nil)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "no further deliveries after unsubscribe")
}

func TestEmitWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := New()
	defer b.Close()
	b.Emit("anything", map[string]interface{}{"a": 1})
}
