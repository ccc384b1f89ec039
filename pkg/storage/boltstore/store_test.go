package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Ariadne/pkg/storage/storagetest"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "states.db")
	s, err := Open(context.Background(), path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStoreContract(t *testing.T) {
	s, _ := openTemp(t)
	storagetest.Run(t, s)
}

func TestReopenKeepsSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states.db")
	ctx := context.Background()

	s, err := Open(ctx, path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, storagetest.Ref(), storagetest.State()))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, 0)
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.Load(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", loaded.GetString("customer"))

	ids, err := s.InstanceIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-1"}, ids)
}

func TestOpenWithExpiredContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := Open(ctx, filepath.Join(t.TempDir(), "x.db"), 0)
	assert.Error(t, err)
}
