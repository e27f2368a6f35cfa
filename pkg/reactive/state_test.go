package reactive_test

import (
	"sync"
	"testing"

	"github.com/lightforgemedia/go-jsonipc/pkg/reactive"
	"github.com/stretchr/testify/assert"
)

func TestStateGetSet(t *testing.T) {
	s := reactive.NewState[any]("default")
	assert.Equal(t, "default", s.Get())
	assert.Zero(t, s.Version())

	s.Set(42.0)
	assert.Equal(t, 42.0, s.Get())
	assert.Equal(t, uint64(1), s.Version())
}

func TestStateWatch(t *testing.T) {
	s := reactive.NewState(0)
	var seen []int
	cancel := s.Watch(func(v int) { seen = append(seen, v) })

	s.Set(1)
	s.Set(2)
	cancel()
	s.Set(3)

	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, 3, s.Get())
}

func TestStateWatcherMayReadBack(t *testing.T) {
	s := reactive.NewState("a")
	var got string
	s.Watch(func(string) { got = s.Get() })
	s.Set("b")
	assert.Equal(t, "b", got)
}

func TestStateReset(t *testing.T) {
	s := reactive.NewState("x")
	calls := 0
	s.Watch(func(string) { calls++ })
	s.Reset()
	s.Set("y")
	assert.Equal(t, 0, calls)
	assert.Equal(t, "y", s.Get())
}

func TestStateConcurrentAccess(t *testing.T) {
	s := reactive.NewState(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Set(i)
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Get()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8), s.Version())
}
