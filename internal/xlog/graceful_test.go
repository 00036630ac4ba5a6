package xlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGracefulShutdown_RunsHooksInLIFOOrder(t *testing.T) {
	g := NewGracefulShutdown(time.Second, nil)
	var order []int
	g.Register(func() error { order = append(order, 1); return nil })
	g.Register(func() error { order = append(order, 2); return nil })
	g.Register(func() error { order = append(order, 3); return nil })

	require.NoError(t, g.Shutdown(context.Background()))
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestGracefulShutdown_ReturnsFirstError(t *testing.T) {
	g := NewGracefulShutdown(time.Second, nil)
	g.Register(func() error { return errors.New("first-registered-runs-last") })
	g.Register(func() error { return errors.New("last-registered-runs-first") })

	err := g.Shutdown(context.Background())
	require.Error(t, err)
	assert.Equal(t, "last-registered-runs-first", err.Error())
}

func TestGracefulShutdown_TimesOut(t *testing.T) {
	g := NewGracefulShutdown(10*time.Millisecond, nil)
	g.Register(func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})

	err := g.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
