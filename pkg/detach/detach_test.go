package detach

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejasdc/starter-stack/pkg/logger"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewRunner_NilLoggerPanics(t *testing.T) {
	assert.Panics(t, func() { NewRunner(nil, time.Second) })
}

func TestRunner_SurvivesParentCancellation(t *testing.T) {
	r := NewRunner(logger.Discard(), time.Second)

	parent, cancel := context.WithCancel(logger.WithRequestID(context.Background(), "req-1"))
	started := make(chan struct{})
	var gotErr error
	var gotID string

	r.Go(parent, "touch", func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		gotErr = ctx.Err()
		gotID = logger.RequestIDFromContext(ctx)
		return nil
	})

	<-started
	cancel()
	require.NoError(t, r.Shutdown(context.Background()))

	assert.NoError(t, gotErr)
	assert.Equal(t, "req-1", gotID)
}

func TestRunner_AppliesTimeout(t *testing.T) {
	r := NewRunner(logger.Discard(), 10*time.Millisecond)

	var gotErr error
	r.Go(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		gotErr = ctx.Err()
		return gotErr
	})

	require.NoError(t, r.Shutdown(context.Background()))
	assert.ErrorIs(t, gotErr, context.DeadlineExceeded)
}

func TestRunner_LogsErrors(t *testing.T) {
	var buf syncBuffer
	r := NewRunner(logger.NewWithWriter("test", "info", &buf), time.Second)

	r.Go(context.Background(), "touch_last_used", func(ctx context.Context) error {
		return errors.New("db down")
	})
	require.NoError(t, r.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "detached task failed")
	assert.Contains(t, out, "touch_last_used")
	assert.Contains(t, out, "db down")
}

func TestRunner_RecoversPanics(t *testing.T) {
	var buf syncBuffer
	r := NewRunner(logger.NewWithWriter("test", "info", &buf), time.Second)

	r.Go(context.Background(), "explode", func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, r.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "panic: boom")
}

func TestRunner_ShutdownDrainsInFlight(t *testing.T) {
	r := NewRunner(logger.Discard(), time.Second)

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		r.Go(context.Background(), "work", func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			done.Add(1)
			return nil
		})
	}

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, int32(5), done.Load())
}

func TestRunner_RejectsAfterShutdown(t *testing.T) {
	r := NewRunner(logger.Discard(), time.Second)
	require.NoError(t, r.Shutdown(context.Background()))

	called := false
	ok := r.Go(context.Background(), "late", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, ok)
	assert.False(t, called)
}

func TestRunner_ShutdownHonoursDeadline(t *testing.T) {
	r := NewRunner(logger.Discard(), time.Second)
	release := make(chan struct{})
	r.Go(context.Background(), "stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
