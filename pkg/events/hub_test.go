package events_test

import (
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-jsonipc/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversPerTopic(t *testing.T) {
	hub := events.NewHub(0)
	defer hub.Close()

	var mu sync.Mutex
	var got []events.Event
	cancel, err := hub.Listen(7, "notify:name", func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	hub.Publish(8, events.Event{Method: "notify:name"})
	hub.Publish(7, events.Event{Method: "notify:other"})
	hub.Publish(7, events.Event{Method: "notify:name", Params: []any{"a"}})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	assert.Equal(t, []any{"a"}, got[0].Params)
	mu.Unlock()
}

func TestHubCancelFromListener(t *testing.T) {
	hub := events.NewHub(4)
	defer hub.Close()

	var mu sync.Mutex
	calls := 0
	var cancel func()
	ready := make(chan struct{})
	cancel, err := hub.Listen(1, "notify:x", func(events.Event) {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		cancel()
	})
	require.NoError(t, err)
	close(ready)

	for i := 0; i < 10; i++ {
		hub.Publish(1, events.Event{Method: "notify:x"})
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestHubClosed(t *testing.T) {
	hub := events.NewHub(1)
	hub.Close()
	hub.Close()
	hub.Publish(1, events.Event{Method: "notify:x"})

	_, err := hub.Listen(1, "notify:x", func(events.Event) {})
	assert.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "42/notify:name", events.Topic(42, "notify:name"))
}
