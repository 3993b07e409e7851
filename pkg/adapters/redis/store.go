// Package redis provides a Redis-backed checkpoint store. Checkpoints are
// stored as JSON blobs with a per-run ZSET index scored by creation time,
// so listing a run is one range read instead of a keyspace scan.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.CheckpointStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets an expiration on stored checkpoints. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a store connecting to the given address.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a store over an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "lattice:checkpoint:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) indexKey(runID string) string {
	return s.prefix + "index:" + runID
}

// Save persists a checkpoint. SETNX enforces immutability: an existing id
// is rejected rather than overwritten.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint missing id")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(cp.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("checkpoint %s already exists", cp.ID)
	}

	// Index membership scored by creation time keeps List a range read.
	err = s.client.ZAdd(ctx, s.indexKey(cp.RunID), backend.Z{
		Score:  float64(cp.CreatedAt.UnixNano()),
		Member: cp.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by id.
func (s *Store) Load(ctx context.Context, id string) (*domain.Checkpoint, error) {
	val, err := s.client.Get(ctx, s.key(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// Delete removes a checkpoint and its index entry. A missing id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	cp, err := s.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrCheckpointNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(cp.RunID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint from redis: %w", err)
	}
	return nil
}

// List returns all checkpoints for a run, ordered by creation time
// ascending. Index entries whose blob has expired are lazily removed.
func (s *Store) List(ctx context.Context, runID string) ([]*domain.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}

	out := make([]*domain.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrCheckpointNotFound) {
				s.client.ZRem(ctx, s.indexKey(runID), id)
				continue
			}
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
