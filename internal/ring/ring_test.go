package ring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrderPreserved(t *testing.T) {
	r := New(4, false)
	ctx := context.Background()

	recs := []*flow.Record{{}, {}, {}}
	for _, rec := range recs {
		require.NoError(t, r.Push(ctx, rec))
	}
	require.Equal(t, 3, r.Count())

	for _, want := range recs {
		got, err := r.Pop(ctx)
		require.NoError(t, err)
		require.Same(t, want, got)
	}
	require.Equal(t, 0, r.Count())
}

func TestCountEqualsPushesMinusPops(t *testing.T) {
	r := New(8, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Push(ctx, &flow.Record{}))
	}
	_, _ = r.Pop(ctx)
	_, _ = r.Pop(ctx)
	require.Equal(t, 3, r.Count())
}

func TestPushBlocksWhenFullUntilPop(t *testing.T) {
	r := New(1, false)
	ctx := context.Background()
	require.NoError(t, r.Push(ctx, &flow.Record{}))

	pushed := make(chan struct{})
	second := &flow.Record{}
	go func() {
		_ = r.Push(ctx, second)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push completed before a slot was freed")
	case <-time.After(30 * time.Millisecond):
	}

	_, err := r.Pop(ctx)
	require.NoError(t, err)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push never completed after a slot was freed")
	}
}

func TestPopRespectsContextCancellation(t *testing.T) {
	r := New(2, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseReportsUndrainedRing(t *testing.T) {
	r := New(4, false)
	require.NoError(t, r.Push(context.Background(), &flow.Record{}))
	require.ErrorIs(t, r.Close(), ErrNotDrained)

	r2 := New(4, false)
	require.NoError(t, r2.Close())
}

func TestMultiProducerSerialisesWriters(t *testing.T) {
	r := New(256, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				require.NoError(t, r.Push(ctx, &flow.Record{}))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 160, r.Count())
}
