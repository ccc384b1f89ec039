// Package storagetest holds the behaviour shared by every storage.Store.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"github.com/wehubfusion/Ariadne/pkg/storage"
)

// Ref is the node reference the contract saves under.
func Ref() process.NodeRef {
	return process.NodeRef{
		Process:    process.NewProcessRef("orders", "fulfil"),
		InstanceID: "inst-1",
		NodeID:     "approve",
	}
}

// State is the snapshot the contract saves.
func State() process.State {
	return process.NewState("inst-1", process.NewProcessRef("orders", "fulfil"), map[string]any{
		"amount":   42.5,
		"customer": "acme",
		"lines":    []any{"a", "b"},
	})
}

// Run exercises save, load, overwrite and delete against s. s must be empty.
func Run(t *testing.T, s storage.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "inst-1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Save(ctx, Ref(), State()))

	loaded, err := s.Load(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", loaded.InstanceID)
	assert.Equal(t, "approve", loaded.NodeID)
	assert.Equal(t, "orders:fulfil", loaded.Process.String())
	assert.Equal(t, "acme", loaded.GetString("customer"))
	amount, _ := loaded.Get("amount")
	assert.Equal(t, 42.5, amount)
	lines, _ := loaded.Get("lines")
	assert.Equal(t, []any{"a", "b"}, lines)

	next := Ref().WithNode("ship")
	require.NoError(t, s.Save(ctx, next, loaded.With("shipped", true)))
	loaded, err = s.Load(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "ship", loaded.NodeID)
	shipped, _ := loaded.Get("shipped")
	assert.Equal(t, true, shipped)

	other := Ref()
	other.InstanceID = "inst-2"
	require.NoError(t, s.Save(ctx, other, State()))

	require.NoError(t, s.Delete(ctx, "inst-1"))
	_, err = s.Load(ctx, "inst-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "inst-1"))

	loaded, err = s.Load(ctx, "inst-2")
	require.NoError(t, err)
	assert.Equal(t, "inst-2", loaded.InstanceID)
}
