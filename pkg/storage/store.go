// Package storage persists process instance state. The engine saves state at
// explicit checkpoints and whenever an instance suspends or records an
// incident, loads it to rehydrate instances it no longer holds in memory, and
// deletes it when an instance completes or is purged.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/wehubfusion/Ariadne/pkg/process"
)

// ErrNotFound is returned by Load when no state is stored for an instance.
var ErrNotFound = errors.New("state not found")

// Store is the persistence contract the engine depends on.
type Store interface {
	// Save stores state as the latest snapshot of ref's instance, positioned at ref's node.
	Save(ctx context.Context, ref process.NodeRef, state process.State) error
	// Load returns the latest snapshot of an instance or ErrNotFound.
	Load(ctx context.Context, instanceID string) (process.State, error)
	// Delete removes an instance's snapshot. Deleting a missing instance is not an error.
	Delete(ctx context.Context, instanceID string) error
}

// Encode serializes a snapshot positioned at ref's node. The identity in ref
// wins over the one carried by state.
func Encode(ref process.NodeRef, state process.State) ([]byte, error) {
	state = state.AtNode(ref.NodeID)
	state.InstanceID = ref.InstanceID
	if !ref.Process.IsZero() {
		state.Process = ref.Process
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state of %s: %w", ref, err)
	}
	return data, nil
}

// Decode deserializes a snapshot produced by Encode.
func Decode(data []byte) (process.State, error) {
	var state process.State
	if err := json.Unmarshal(data, &state); err != nil {
		return process.State{}, fmt.Errorf("failed to decode state: %w", err)
	}
	return state, nil
}

// Memory is an in-process Store. Snapshots are kept encoded so callers never
// share maps with the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, ref process.NodeRef, state process.State) error {
	data, err := Encode(ref, state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ref.InstanceID] = data
	return nil
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, instanceID string) (process.State, error) {
	m.mu.RLock()
	data, ok := m.data[instanceID]
	m.mu.RUnlock()
	if !ok {
		return process.State{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	return Decode(data)
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, instanceID)
	return nil
}

// Len returns the number of stored snapshots.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
