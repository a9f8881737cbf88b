package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	assert.Equal(t, DefaultHighWaterMark, New(0).HighWaterMark())
	assert.Equal(t, DefaultHighWaterMark, New(-5).HighWaterMark())
	assert.Equal(t, 10, New(10).HighWaterMark())
}

func TestController_BelowMarkAdmitsImmediately(t *testing.T) {
	c := New(3)
	c.Begin()
	c.Begin()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	assert.Equal(t, int64(0), c.Waits())
}

// Once 300 writes are in flight nothing is admitted; the next completion
// (299 in flight) lets the producer through.
func TestController_Backpressure(t *testing.T) {
	c := New(300)
	for i := 0; i < 300; i++ {
		c.Begin()
	}
	require.Equal(t, 300, c.InFlight())

	admitted := make(chan error, 1)
	go func() {
		admitted <- c.Wait(context.Background())
	}()

	select {
	case <-admitted:
		t.Fatal("producer admitted at the high-water mark")
	case <-time.After(50 * time.Millisecond):
	}

	c.Done()
	assert.Equal(t, 299, c.InFlight())

	select {
	case err := <-admitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer not woken after drain")
	}
	assert.Equal(t, int64(1), c.Waits())
	assert.Equal(t, 300, c.Peak())
}

func TestController_AboveMarkNeedsSeveralDrains(t *testing.T) {
	c := New(2)
	for i := 0; i < 4; i++ {
		c.Begin()
	}

	admitted := make(chan struct{})
	go func() {
		_ = c.Wait(context.Background())
		close(admitted)
	}()

	c.Done() // 3
	c.Done() // 2
	select {
	case <-admitted:
		t.Fatal("admitted while still at the mark")
	case <-time.After(50 * time.Millisecond):
	}

	c.Done() // 1
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("not admitted below the mark")
	}
}

func TestController_WaitHonoursContext(t *testing.T) {
	c := New(1)
	c.Begin()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_DoneNeverGoesNegative(t *testing.T) {
	c := New(5)
	c.Done()
	assert.Equal(t, 0, c.InFlight())
}

func TestController_Concurrent(t *testing.T) {
	c := New(8)
	var wg sync.WaitGroup
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		require.NoError(t, c.Wait(ctx))
		c.Begin()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.Done()
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, c.InFlight())
	assert.LessOrEqual(t, c.Peak(), 8)
}
