package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestThumbWaitersLifecycle verifies the begin/finish/wait protocol:
// one load per photo, waiters released on finish, immediate return when
// nothing is loading.
func TestThumbWaitersLifecycle(t *testing.T) {
	w := newThumbWaiters()

	require.True(t, w.begin(1))
	require.False(t, w.begin(1), "a second begin joins the in-flight load")

	released := make(chan bool, 1)
	go func() { released <- w.wait(1, time.Second) }()
	w.finish(1)
	assert.True(t, <-released)

	assert.True(t, w.wait(1, 0), "no load in flight returns immediately")
	w.finish(1)
}

// TestThumbWaitersFinishRacingPark verifies a finish landing before the
// waiter parks still releases it; the completion is never lost.
func TestThumbWaitersFinishRacingPark(t *testing.T) {
	w := newThumbWaiters()
	for i := 0; i < 200; i++ {
		require.True(t, w.begin(7))
		released := make(chan bool, 1)
		go func() { released <- w.wait(7, 2*time.Second) }()
		w.finish(7)
		if !<-released {
			t.Fatal("waiter missed a completion that raced its park")
		}
	}
}

// TestThumbWaitersTimeout verifies an unfinished load bounds the wait.
func TestThumbWaitersTimeout(t *testing.T) {
	w := newThumbWaiters()
	require.True(t, w.begin(3))

	start := time.Now()
	assert.False(t, w.wait(3, 10*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
	w.finish(3)
}
