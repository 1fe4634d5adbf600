package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownHooks_Add(t *testing.T) {
	t.Run("adds hooks", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		hooks.AddContext("telemetry", func(ctx context.Context) error { return nil })
		hooks.Add("cache", func() error { return nil })

		require.Len(t, hooks.hooks, 2)
		assert.Equal(t, "telemetry", hooks.hooks[0].name)
		assert.Equal(t, "cache", hooks.hooks[1].name)
	})

	t.Run("ignores nil hooks", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		hooks.AddContext("nil-context", nil)
		hooks.Add("nil", nil)
		assert.Empty(t, hooks.hooks)
	})
}

func TestShutdownHooks_Execute(t *testing.T) {
	t.Run("runs in reverse order", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		var order []string

		for _, name := range []string{"first", "second", "third"} {
			hooks.Add(name, func() error {
				order = append(order, name)
				return nil
			})
		}

		hooks.Execute(context.Background())

		assert.Equal(t, []string{"third", "second", "first"}, order)
	})

	t.Run("continues after failure", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		var called []string

		hooks.Add("ok-1", func() error { called = append(called, "ok-1"); return nil })
		hooks.Add("broken", func() error { called = append(called, "broken"); return errors.New("close failed") })
		hooks.Add("ok-2", func() error { called = append(called, "ok-2"); return nil })

		hooks.Execute(context.Background())

		assert.Equal(t, []string{"ok-2", "broken", "ok-1"}, called)
	})

	t.Run("passes context", func(t *testing.T) {
		type key struct{}
		ctx := context.WithValue(context.Background(), key{}, "value")

		hooks := &ShutdownHooks{}
		var received any
		hooks.AddContext("ctx", func(ctx context.Context) error {
			received = ctx.Value(key{})
			return nil
		})

		hooks.Execute(ctx)

		assert.Equal(t, "value", received)
	})

	t.Run("no hooks", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		assert.NotPanics(t, func() { hooks.Execute(context.Background()) })
	})
}
