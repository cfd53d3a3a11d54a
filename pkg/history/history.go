// Package history persists the outcome of society runs in a local bbolt
// database so earlier answers can be listed and shown again.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/germanamz/owl/pkg/modeladapter/usage"
)

const bucketName = "runs"

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("history: run not found")

// Record is one persisted run.
type Record struct {
	ID        string           `json:"id"`
	Question  string           `json:"question"`
	Answer    string           `json:"answer,omitempty"`
	Usage     usage.TokenCount `json:"usage"`
	Rounds    int              `json:"rounds"`
	Attempts  int              `json:"attempts"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Error     string           `json:"error,omitempty"`
}

// Succeeded reports whether the run produced an answer.
func (r Record) Succeeded() bool { return r.Error == "" }

// Store is a bbolt-backed run store.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store at path, creating parent directories.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: init: %w", err)
	}

	return &Store{db: db}, nil
}

// Put stores r, replacing any record with the same ID.
func (s *Store) Put(r Record) error {
	if r.ID == "" {
		return errors.New("history: record id is required")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(r.ID), data)
	})
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (Record, error) {
	var r Record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &r)
	})

	return r, err
}

// List returns up to limit records, newest first. A non-positive limit
// returns all of them.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}

	slices.SortStableFunc(records, func(a, b Record) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
