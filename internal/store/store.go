package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/buildflow/internal/config"
	"github.com/kode4food/buildflow/internal/util"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

type (
	// RunStore persists the records of terminal runs
	RunStore interface {
		Save(context.Context, *api.RunRecord) error
		Get(context.Context, api.RunID) (*api.RunRecord, error)
		List(context.Context, int) ([]*api.RunDigest, error)
		Delete(context.Context, api.RunID) error
		Ping(context.Context) error
		Close() error
	}

	// RedisStore keeps one JSON document per run and a sorted set of run IDs
	// scored by creation time
	RedisStore struct {
		client *redis.Client
		cache  *util.LRUCache[api.RunID, *api.RunRecord]
		prefix string
	}
)

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrRecordRequired  = errors.New("run record is required")
	ErrRunNotTerminal  = errors.New("run is not terminal")
	ErrCorruptedRecord = errors.New("corrupted run record")
)

var _ RunStore = (*RedisStore)(nil)

// NewRedisStore connects to the redis server described by cfg
func NewRedisStore(cfg config.StoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.Prefix, cfg.CacheSize)
}

// NewRedisStoreWithClient wraps an existing client. The store takes
// ownership and closes it on Close
func NewRedisStoreWithClient(
	client *redis.Client, prefix string, cacheSize int,
) *RedisStore {
	return &RedisStore{
		client: client,
		cache:  util.NewLRUCache[api.RunID, *api.RunRecord](cacheSize),
		prefix: prefix,
	}
}

// Ping checks that the redis server is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save writes a terminal run record and indexes it by creation time
func (s *RedisStore) Save(ctx context.Context, rec *api.RunRecord) error {
	if rec == nil {
		return ErrRecordRequired
	}
	if !rec.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s",
			ErrRunNotTerminal, rec.ID, rec.Status)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.runKey(rec.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(rec.CreatedAt.UnixMilli()),
			Member: string(rec.ID),
		})
		return nil
	})
	if err != nil {
		slog.Error("Failed to save run record",
			log.RunID(rec.ID),
			log.Error(err))
		return err
	}

	s.cache.Put(rec.ID, rec)
	return nil
}

// Get returns the record of a run, reading through the cache
func (s *RedisStore) Get(
	ctx context.Context, id api.RunID,
) (*api.RunRecord, error) {
	return s.cache.Get(id, func() (*api.RunRecord, error) {
		data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		if err != nil {
			return nil, err
		}
		return decodeRecord(id, data)
	})
}

// List returns digests of the most recently created runs, newest first. A
// limit of zero or less returns every run
func (s *RedisStore) List(
	ctx context.Context, limit int,
) ([]*api.RunDigest, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.RunDigest{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(api.RunID(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]*api.RunDigest, 0, len(values))
	for i, v := range values {
		id := api.RunID(ids[i])
		data, ok := v.(string)
		if !ok {
			slog.Warn("Run indexed without record", log.RunID(id))
			continue
		}
		rec, err := decodeRecord(id, []byte(data))
		if err != nil {
			slog.Warn("Skipping unreadable run record",
				log.RunID(id),
				log.Error(err))
			continue
		}
		res = append(res, rec.Digest())
	}
	return res, nil
}

// Delete removes a run record and its index entry
func (s *RedisStore) Delete(ctx context.Context, id api.RunID) error {
	s.cache.Remove(id)

	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.runKey(id))
		pipe.ZRem(ctx, s.indexKey(), string(id))
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Count returns the number of retained runs
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.indexKey()).Result()
}

// Close releases the redis connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) runKey(id api.RunID) string {
	return s.prefix + ":run:" + string(id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":runs"
}

func decodeRecord(id api.RunID, data []byte) (*api.RunRecord, error) {
	var rec api.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptedRecord, id, err)
	}
	return &rec, nil
}
