// Package sqlstore is a storage.Store backed by SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/wehubfusion/Ariadne/pkg/process"
	"github.com/wehubfusion/Ariadne/pkg/storage"
)

//go:embed schema.sql
var schema string

// Store keeps instance snapshots in the process_states table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Save implements storage.Store.
func (s *Store) Save(ctx context.Context, ref process.NodeRef, state process.State) error {
	data, err := storage.Encode(ref, state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_states (instance_id, process, node_id, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			process = excluded.process,
			node_id = excluded.node_id,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		ref.InstanceID, ref.Process.String(), ref.NodeID, string(data),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save state of %s: %w", ref.InstanceID, err)
	}
	return nil
}

// Load implements storage.Store.
func (s *Store) Load(ctx context.Context, instanceID string) (process.State, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM process_states WHERE instance_id = ?`, instanceID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return process.State{}, fmt.Errorf("instance %s: %w", instanceID, storage.ErrNotFound)
	}
	if err != nil {
		return process.State{}, fmt.Errorf("load state of %s: %w", instanceID, err)
	}
	return storage.Decode([]byte(data))
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, instanceID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM process_states WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("delete state of %s: %w", instanceID, err)
	}
	return nil
}

// InstancesOf lists the stored instance ids of one process.
func (s *Store) InstancesOf(ctx context.Context, ref process.ProcessRef) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id FROM process_states WHERE process = ? ORDER BY instance_id`, ref.String())
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
