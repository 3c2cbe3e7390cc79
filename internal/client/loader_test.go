package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLoaderSupersedesStaleLoad(t *testing.T) {
	started := make(chan struct{})
	loader := NewKeyedLoader(func(ctx context.Context, id uint) (string, error) {
		if id == 1 {
			close(started)
			<-ctx.Done()
			return "stale", ctx.Err()
		}
		return "fresh", nil
	})

	type result struct {
		value string
		err   error
	}
	first := make(chan result, 1)
	go func() {
		v, err := loader.Load(context.Background(), 1)
		first <- result{v, err}
	}()
	<-started

	v, err := loader.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	select {
	case r := <-first:
		assert.ErrorIs(t, r.err, ErrStale)
		assert.Empty(t, r.value)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded load was not cancelled")
	}
}

func TestKeyedLoaderCancel(t *testing.T) {
	started := make(chan struct{})
	loader := NewKeyedLoader(func(ctx context.Context, id uint) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	done := make(chan error, 1)
	go func() {
		_, err := loader.Load(context.Background(), 5)
		done <- err
	}()
	<-started
	loader.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStale)
	case <-time.After(2 * time.Second):
		t.Fatal("load was not cancelled")
	}
}
