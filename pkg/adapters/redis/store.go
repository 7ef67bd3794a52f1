// Package redis persists sync records in Redis and provides a distributed
// locker for supervisors replicated across processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "max:sync:"

// SyncStore implements ports.SyncStore using Redis. Each record is a JSON
// string; a sorted set per installation indexes them by start time.
type SyncStore struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

type Option func(*SyncStore)

// WithTTL expires finished records after ttl. Running records never expire.
func WithTTL(ttl time.Duration) Option {
	return func(s *SyncStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *SyncStore) {
		s.prefix = prefix
	}
}

// New creates a store connected to address.
func New(address, password string, db int, opts ...Option) *SyncStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromURL creates a store from a redis:// URL.
func NewFromURL(url string, opts ...Option) (*SyncStore, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", domain.ErrInvalidArgs, err)
	}
	return NewFromClient(backend.NewClient(o), opts...), nil
}

// NewFromClient creates a store from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *SyncStore {
	store := &SyncStore{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *SyncStore) Client() backend.UniversalClient { return s.client }

func (s *SyncStore) key(id string) string {
	return s.prefix + "rec:" + id
}

func (s *SyncStore) indexKey(inst domain.InstallationID) string {
	return s.prefix + "idx:" + string(inst)
}

// SaveSync persists the record and indexes it under its installation.
func (s *SyncStore) SaveSync(ctx context.Context, rec *domain.SyncRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: sync record without id", domain.ErrInvalidArgs)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal sync record: %w", err)
	}

	ttl := time.Duration(0)
	if rec.Status.Finished() {
		ttl = s.ttl
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(rec.ID), data, ttl)
	pipe.ZAdd(ctx, s.indexKey(rec.Installation), backend.Z{
		Score:  float64(rec.StartedAt.UnixMilli()),
		Member: rec.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// LoadSync retrieves a record.
func (s *SyncStore) LoadSync(ctx context.Context, id string) (*domain.SyncRecord, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSyncNotFound, id)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	var rec domain.SyncRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync record: %w", err)
	}
	return &rec, nil
}

// ListSyncs returns the records of inst, newest first. Index entries whose
// record expired are pruned lazily.
func (s *SyncStore) ListSyncs(ctx context.Context, inst domain.InstallationID) ([]*domain.SyncRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(inst), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list syncs: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.SyncRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load syncs: %w", err)
	}

	out := make([]*domain.SyncRecord, 0, len(vals))
	var expired []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var rec domain.SyncRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync record %s: %w", ids[i], err)
		}
		out = append(out, &rec)
	}
	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(inst), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired syncs: %w", err)
		}
	}
	return out, nil
}

// DeleteSync removes a record and its index entry.
func (s *SyncStore) DeleteSync(ctx context.Context, id string) error {
	rec, err := s.LoadSync(ctx, id)
	if errors.Is(err, domain.ErrSyncNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(rec.Installation), id)
	_, err = pipe.Exec(ctx)
	return err
}

// Close closes the redis client.
func (s *SyncStore) Close() error {
	return s.client.Close()
}

var _ ports.SyncStore = (*SyncStore)(nil)
