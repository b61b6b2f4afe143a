package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"assessgate/internal/progress/models"
	"assessgate/pkg/platform/sentinel"
)

const (
	shareKeyPrefix = "share:"
	maxTxRetries   = 5
)

// RedisStore keeps share records as JSON values whose Redis TTL is the share
// lifetime, so deletion is scheduled by Redis itself.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func shareKey(code string) string {
	return shareKeyPrefix + code
}

// Save uses SET NX with an absolute expiry.
func (s *RedisStore) Save(ctx context.Context, record *models.ShareRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal share: %w", err)
	}
	err = s.client.SetArgs(ctx, shareKey(record.Code), data, redis.SetArgs{
		Mode:     "NX",
		ExpireAt: record.ExpiresAt,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("share code %s: %w", record.Code, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("save share: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, code string) (*models.ShareRecord, error) {
	return s.get(ctx, s.client, code)
}

// Execute is an optimistic read-modify-write: WATCH the key, apply fn, and
// write back with KEEPTTL so updates never extend the lifetime. Conflicting
// writers are retried.
func (s *RedisStore) Execute(ctx context.Context, code string, fn func(record *models.ShareRecord) error) (*models.ShareRecord, error) {
	key := shareKey(code)
	var result *models.ShareRecord

	txf := func(tx *redis.Tx) error {
		record, err := s.get(ctx, tx, code)
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal share: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		result = record
		return nil
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("share %s: too much contention: %w", code, sentinel.ErrUnavailable)
}

// Close is a no-op; the client lifecycle is managed by the caller.
func (s *RedisStore) Close() {}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, code string) (*models.ShareRecord, error) {
	data, err := c.Get(ctx, shareKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("share code %s: %w", code, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load share: %w: %w", sentinel.ErrUnavailable, err)
	}
	var record models.ShareRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode share: %w", err)
	}
	return record.Clone(), nil
}
