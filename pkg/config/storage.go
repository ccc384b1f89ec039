package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/wehubfusion/Ariadne/pkg/storage"
	"github.com/wehubfusion/Ariadne/pkg/storage/boltstore"
	"github.com/wehubfusion/Ariadne/pkg/storage/sqlstore"
	"go.uber.org/zap"
)

// Backend names a state store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBolt   Backend = "bolt"
	BackendSQLite Backend = "sqlite"
	BackendAzure  Backend = "azure"
)

type StorageConfig struct {
	Backend Backend     `yaml:"backend"`
	Path    string      `yaml:"path"`
	Azure   AzureConfig `yaml:"azure"`
}

type AzureConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Container        string `yaml:"container"`
}

func (s *StorageConfig) validate() error {
	if s.Backend == "" {
		s.Backend = BackendMemory
	}
	switch s.Backend {
	case BackendMemory:
	case BackendBolt, BackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", s.Backend)
		}
	case BackendAzure:
		if s.Azure.ConnectionString == "" || s.Azure.Container == "" {
			return errors.New("storage.azure needs connection_string and container")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}
	return nil
}

// Open creates the configured store. The returned func releases it.
func (s StorageConfig) Open(ctx context.Context, logger *zap.Logger) (storage.Store, func() error, error) {
	noop := func() error { return nil }
	if err := s.validate(); err != nil {
		return nil, nil, err
	}

	switch s.Backend {
	case BackendBolt:
		st, err := boltstore.Open(ctx, s.Path, 0o600)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case BackendSQLite:
		st, err := sqlstore.Open(s.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case BackendAzure:
		client, err := storage.NewAzureBlobClient(s.Azure.ConnectionString, s.Azure.Container, logger)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewBlobStore(client, logger), noop, nil
	default:
		return storage.NewMemory(), noop, nil
	}
}
