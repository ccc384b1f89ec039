package storage_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"github.com/wehubfusion/Ariadne/pkg/storage"
	"github.com/wehubfusion/Ariadne/pkg/storage/storagetest"
	"go.uber.org/zap"
)

type fakeBlobClient struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	metadata map[string]map[string]string
	failNext error
}

func newFakeBlobClient() *fakeBlobClient {
	return &fakeBlobClient{
		blobs:    make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (f *fakeBlobClient) UploadBlob(_ context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return "", err
	}
	f.blobs[blobPath] = append([]byte(nil), data...)
	f.metadata[blobPath] = metadata
	return "memory://" + blobPath, nil
}

func (f *fakeBlobClient) DownloadBlob(_ context.Context, reference string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[reference]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", reference, storage.ErrNotFound)
	}
	return data, nil
}

func (f *fakeBlobClient) DeleteBlob(_ context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, reference)
	return nil
}

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, storage.NewMemory())
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()
	vars := map[string]any{"n": 1}
	state := process.NewState("inst-1", process.NewProcessRef("g", "p"), vars)
	require.NoError(t, m.Save(ctx, storagetest.Ref(), state))

	vars["n"] = 2
	loaded, err := m.Load(ctx, "inst-1")
	require.NoError(t, err)
	n, _ := loaded.Get("n")
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, m.Len())
}

func TestEncodeTakesIdentityFromRef(t *testing.T) {
	ref := storagetest.Ref()
	ref.InstanceID = "inst-2"
	state := process.NewState("inst-1", process.NewProcessRef("g", "old"), map[string]any{"n": 1})

	data, err := storage.Encode(ref, state)
	require.NoError(t, err)
	decoded, err := storage.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "inst-2", decoded.InstanceID)
	assert.Equal(t, ref.Process, decoded.Process)
	assert.Equal(t, ref.NodeID, decoded.NodeID)
}

func TestBlobStore(t *testing.T) {
	storagetest.Run(t, storage.NewBlobStore(newFakeBlobClient(), zap.NewNop()))
}

func TestBlobStoreMetadata(t *testing.T) {
	blobs := newFakeBlobClient()
	s := storage.NewBlobStore(blobs, zap.NewNop())
	require.NoError(t, s.Save(context.Background(), storagetest.Ref(), storagetest.State()))

	meta := blobs.metadata[storage.StatePath("inst-1")]
	assert.Equal(t, "orders:fulfil", meta["process"])
	assert.Equal(t, "approve", meta["node_id"])
}

func TestBlobStoreUploadFailure(t *testing.T) {
	blobs := newFakeBlobClient()
	blobs.failNext = fmt.Errorf("throttled")
	s := storage.NewBlobStore(blobs, zap.NewNop())

	err := s.Save(context.Background(), storagetest.Ref(), storagetest.State())
	assert.ErrorContains(t, err, "throttled")
}

func TestBlobStoreWithoutClient(t *testing.T) {
	s := storage.NewBlobStore(nil, zap.NewNop())
	assert.Error(t, s.Save(context.Background(), storagetest.Ref(), storagetest.State()))
	_, err := s.Load(context.Background(), "x")
	assert.Error(t, err)
}

func TestStatePath(t *testing.T) {
	assert.Equal(t, "instances/abc/state.json", storage.StatePath("abc"))
}
