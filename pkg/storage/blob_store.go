package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wehubfusion/Ariadne/pkg/process"
	"go.uber.org/zap"
)

// BlobStore keeps one JSON snapshot per instance in blob storage.
type BlobStore struct {
	blobClient BlobClient
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewBlobStore creates a store over blobClient.
func NewBlobStore(blobClient BlobClient, logger *zap.Logger) *BlobStore {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &BlobStore{
		blobClient: blobClient,
		logger:     logger,
	}
}

// StatePath returns the blob path of an instance snapshot.
func StatePath(instanceID string) string {
	return fmt.Sprintf("instances/%s/state.json", instanceID)
}

// Save implements Store.
func (s *BlobStore) Save(ctx context.Context, ref process.NodeRef, state process.State) error {
	if s.blobClient == nil {
		return fmt.Errorf("blob client not initialized")
	}

	data, err := Encode(ref, state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blobPath := StatePath(ref.InstanceID)
	_, err = s.blobClient.UploadBlob(ctx, blobPath, data, map[string]string{
		"process":       ref.Process.String(),
		"node_id":       ref.NodeID,
		"last_modified": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to save state of %s: %w", ref.InstanceID, err)
	}

	s.logger.Debug("Saved instance state",
		zap.String("instance_id", ref.InstanceID),
		zap.String("node_id", ref.NodeID),
		zap.String("blob_path", blobPath),
		zap.Int("size_bytes", len(data)))
	return nil
}

// Load implements Store.
func (s *BlobStore) Load(ctx context.Context, instanceID string) (process.State, error) {
	if s.blobClient == nil {
		return process.State{}, fmt.Errorf("blob client not initialized")
	}

	data, err := s.blobClient.DownloadBlob(ctx, StatePath(instanceID))
	if err != nil {
		return process.State{}, fmt.Errorf("failed to load state of %s: %w", instanceID, err)
	}
	return Decode(data)
}

// Delete implements Store.
func (s *BlobStore) Delete(ctx context.Context, instanceID string) error {
	if s.blobClient == nil {
		return fmt.Errorf("blob client not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blobClient.DeleteBlob(ctx, StatePath(instanceID)); err != nil {
		return fmt.Errorf("failed to delete state of %s: %w", instanceID, err)
	}
	return nil
}
