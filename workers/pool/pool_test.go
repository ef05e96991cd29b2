package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xrplbridge/logging"
)

func blocking(gate chan struct{}) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		<-gate
		return nil
	}
}

func waitRunning(t *testing.T, p *Pool, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, running := p.Stats()
		return running == n
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitRunsTask(t *testing.T) {
	p := New(2, 4, logging.Discard())
	defer p.Shutdown(context.Background())

	boom := errors.New("boom")
	h, err := p.Submit("a", func(ctx context.Context) error {
		require.NotNil(t, logging.LoggerFromContext(ctx))
		return boom
	})
	require.NoError(t, err)
	require.Equal(t, "a", h.ID())
	require.ErrorIs(t, h.Wait(context.Background()), boom)
	require.ErrorIs(t, h.Err(), boom)
	require.False(t, p.Active("a"))
}

func TestQueueFull(t *testing.T) {
	p := New(1, 1, logging.Discard())
	gate := make(chan struct{})
	defer p.Shutdown(context.Background())
	defer close(gate)

	_, err := p.Submit("running", blocking(gate))
	require.NoError(t, err)
	waitRunning(t, p, 1)

	_, err = p.Submit("queued", blocking(gate))
	require.NoError(t, err)

	_, err = p.Submit("rejected", blocking(gate))
	require.ErrorIs(t, err, ErrQueueFull)
	require.False(t, p.Active("rejected"))

	queued, running := p.Stats()
	require.Equal(t, 1, queued)
	require.Equal(t, 1, running)
}

func TestAlreadyRunning(t *testing.T) {
	p := New(1, 2, logging.Discard())
	gate := make(chan struct{})
	defer p.Shutdown(context.Background())
	defer close(gate)

	_, err := p.Submit("a", blocking(gate))
	require.NoError(t, err)
	require.True(t, p.Active("a"))

	_, err = p.Submit("a", blocking(gate))
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestPanicBecomesError(t *testing.T) {
	p := New(1, 1, logging.Discard())
	defer p.Shutdown(context.Background())

	h, err := p.Submit("a", func(ctx context.Context) error {
		panic("unexpected")
	})
	require.NoError(t, err)
	err = h.Wait(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "panicked")

	// the worker survives
	h, err = p.Submit("b", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))
}

func TestWaitGivesUpWithContext(t *testing.T) {
	p := New(1, 1, logging.Discard())
	gate := make(chan struct{})
	defer p.Shutdown(context.Background())
	defer close(gate)

	h, err := p.Submit("a", blocking(gate))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
	require.NoError(t, h.Err())
	require.True(t, p.Active("a"))
}

func TestShutdownDrains(t *testing.T) {
	p := New(1, 4, logging.Discard())

	finished := make(chan string, 3)
	for _, id := range []string{"a", "b", "c"} {
		id := id
		_, err := p.Submit(id, func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			finished <- id
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	require.Len(t, finished, 3)

	_, err := p.Submit("d", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownDeadline(t *testing.T) {
	p := New(1, 1, logging.Discard())
	gate := make(chan struct{})
	defer close(gate)

	_, err := p.Submit("a", blocking(gate))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}
