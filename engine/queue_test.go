package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/core"
)

func TestTurnGate_FIFOOrder(t *testing.T) {
	g := newTurnGate(8)
	ctx := context.Background()

	require.NoError(t, g.Enter(ctx, "sess-1"))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, g.Enter(ctx, "sess-1"))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			g.Leave("sess-1")
		}(i)
		// Give each goroutine time to queue so arrival order is known.
		time.Sleep(20 * time.Millisecond)
	}

	g.Leave("sess-1")
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order)
	assert.Equal(t, 0, g.Depth("sess-1"))
}

func TestTurnGate_Overflow(t *testing.T) {
	g := newTurnGate(1)
	ctx := context.Background()

	require.NoError(t, g.Enter(ctx, "sess-1"))

	queued := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(queued)
		_ = g.Enter(ctx, "sess-1")
		close(done)
	}()
	<-queued
	// Wait for the goroutine to actually be in the wait queue.
	for g.Depth("sess-1") != 1 {
		time.Sleep(time.Millisecond)
	}

	err := g.Enter(ctx, "sess-1")
	assert.ErrorIs(t, err, core.ErrQueueFull)

	g.Leave("sess-1")
	<-done
	g.Leave("sess-1")
}

func TestTurnGate_SessionsIndependent(t *testing.T) {
	g := newTurnGate(1)
	ctx := context.Background()

	require.NoError(t, g.Enter(ctx, "sess-1"))
	// A busy session never blocks another session's turns.
	require.NoError(t, g.Enter(ctx, "sess-2"))
	g.Leave("sess-1")
	g.Leave("sess-2")
}

func TestTurnGate_ContextCancelWhileQueued(t *testing.T) {
	g := newTurnGate(4)
	require.NoError(t, g.Enter(context.Background(), "sess-1"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Enter(ctx, "sess-1") }()
	for g.Depth("sess-1") != 1 {
		time.Sleep(time.Millisecond)
	}

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, g.Depth("sess-1"))

	// The holder can still hand off normally afterwards.
	g.Leave("sess-1")
	require.NoError(t, g.Enter(context.Background(), "sess-1"))
	g.Leave("sess-1")
}

func TestValidateInbound(t *testing.T) {
	valid := core.Inbound{
		ExternalThreadID: "thread_42",
		MessageID:        core.NewID(),
		Body:             "hello",
	}
	assert.NoError(t, ValidateInbound(valid))

	long := valid
	long.Body = string(make([]byte, MaxBodyLength+1))
	assert.ErrorIs(t, ValidateInbound(long), ErrInvalidInbound)

	shortThread := valid
	shortThread.ExternalThreadID = "ab"
	assert.ErrorIs(t, ValidateInbound(shortThread), ErrInvalidInbound)
}
