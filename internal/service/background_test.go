package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackground_WaitReturnsWhenRunsFinish(t *testing.T) {
	bg := newBackground()
	release := make(chan struct{})
	finished := false

	bg.Go(context.Background(), func(context.Context) {
		<-release
		finished = true
	})
	close(release)

	require.NoError(t, bg.Wait(context.Background()))
	assert.True(t, finished)
}

func TestBackground_WaitDeadlineCancelsRuns(t *testing.T) {
	bg := newBackground()
	var runErr error

	bg.Go(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		runErr = ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, bg.Wait(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, runErr, context.Canceled)
}

func TestBackground_RunKeepsCallerValues(t *testing.T) {
	type key struct{}
	bg := newBackground()
	var got any

	bg.Go(context.WithValue(context.Background(), key{}, "corr-1"), func(ctx context.Context) {
		got = ctx.Value(key{})
	})

	require.NoError(t, bg.Wait(context.Background()))
	assert.Equal(t, "corr-1", got)
}

func TestBackground_WaitWithoutRuns(t *testing.T) {
	assert.NoError(t, newBackground().Wait(context.Background()))
}
