// internal/service/fulfillment/application/lanes_test.go
package application

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLaneSerializesSameOrder(t *testing.T) {
	r := newLaneRegistry()
	var counter, max int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := r.Acquire("ord-1")
			defer release()
			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()
			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, max, "events for the same order must never overlap")
	assert.Empty(t, r.lanes, "idle lanes must be reclaimed")
}

func TestLanesForDifferentOrdersDoNotBlock(t *testing.T) {
	r := newLaneRegistry()

	releaseA := r.Acquire("ord-a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB := r.Acquire("ord-b")
		releaseB()
		close(done)
	}()
	<-done
}
