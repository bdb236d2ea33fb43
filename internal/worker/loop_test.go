package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoop_RunsInPostOrder(t *testing.T) {
	loop := NewLoop(zap.NewNop())
	loop.Start()
	defer loop.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, loop.Post(func() { got = append(got, i) }))
	}
	loop.Do(func() {})

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_SingleGoroutine(t *testing.T) {
	loop := NewLoop(zap.NewNop())
	loop.Start()
	defer loop.Stop()

	// Unsynchronized counter: the race detector flags this if two posted
	// functions ever run concurrently.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				loop.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	loop.Do(func() { final = counter })
	assert.Equal(t, 1000, final)
}

func TestLoop_SurvivesPanic(t *testing.T) {
	loop := NewLoop(zap.NewNop())
	loop.Start()
	defer loop.Stop()

	loop.Post(func() { panic("boom") })

	ran := false
	loop.Do(func() { ran = true })
	assert.True(t, ran)
}

func TestLoop_GracefulStop(t *testing.T) {
	loop := NewLoop(zap.NewNop())
	loop.Start()

	ran := make(chan struct{}, 1)
	loop.Post(func() {
		time.Sleep(50 * time.Millisecond)
		ran <- struct{}{}
	})

	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("main loop did not stop within 5 seconds")
	}

	select {
	case <-ran:
	default:
		t.Fatal("queued work must run before the loop stops")
	}

	assert.False(t, loop.Post(func() {}), "post after stop is rejected")
	assert.False(t, loop.Do(func() {}))
	loop.Stop()
}
