package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueChainsTurns(t *testing.T) {
	p := newProps()

	prev1, finish1 := p.Enqueue()
	assert.Nil(t, prev1)
	prev2, finish2 := p.Enqueue()
	require.NotNil(t, prev2)
	assert.True(t, p.InFlight())

	select {
	case <-prev2:
		t.Fatal("second turn released before first finished")
	default:
	}

	finish1()
	select {
	case <-prev2:
	case <-time.After(time.Second):
		t.Fatal("second turn not released")
	}
	// The first turn is no longer the tail, so the slot stays occupied.
	assert.True(t, p.InFlight())

	finish2()
	finish2()
	assert.False(t, p.InFlight())

	prev3, finish3 := p.Enqueue()
	assert.Nil(t, prev3)
	finish3()
}

func TestPropertyCommitDiscardsStale(t *testing.T) {
	p := newProps()
	prop, created := p.Property("volume", 0.0)
	require.True(t, created)

	older := prop.Begin()
	newer := prop.Begin()

	assert.True(t, prop.Commit(newer, 0.8))
	assert.False(t, prop.Commit(older, 0.2))
	assert.Equal(t, 0.8, prop.State.Get())

	again, created := p.Property("volume", 1.0)
	assert.False(t, created)
	assert.Same(t, prop, again)
}

func TestDisposeRunsUnwatchersInReverse(t *testing.T) {
	p := newProps()
	var order []int
	p.OnDispose(func() { order = append(order, 1) })
	p.OnDispose(func() { order = append(order, 2) })
	p.Property("a", nil)

	p.Dispose()
	p.Dispose()

	assert.Equal(t, []int{2, 1}, order)
	assert.Zero(t, p.Len())

	ran := false
	p.OnDispose(func() { ran = true })
	assert.True(t, ran)

	_, created := p.Property("a", nil)
	assert.False(t, created)
	assert.Zero(t, p.Len())
}

func TestPropertyFetchIssuesGenerationsInOrder(t *testing.T) {
	p := newProps()
	prop, _ := p.Property("name", "")

	var written []uint64
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := prop.Fetch(func(gen uint64) error {
				written = append(written, gen)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, written, 50)
	for i := 1; i < len(written); i++ {
		assert.Less(t, written[i-1], written[i])
	}
	assert.True(t, prop.Commit(written[len(written)-1], "latest"))
}
