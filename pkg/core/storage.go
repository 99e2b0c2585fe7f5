package core

import (
	"context"
	"time"
)

// KVStore is the shared key-value silo used by the queue protocol,
// node heartbeats, and the dispatcher.
//
// Missing keys are not errors for hash and list reads: HGetAll returns an
// empty map and LRange an empty slice. Get and LPop return ErrKeyNotFound.
type KVStore interface {
	// Plain values
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Hashes
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Lists
	RPush(ctx context.Context, key string, values ...string) error
	LPush(ctx context.Context, key string, values ...string) error
	LPop(ctx context.Context, key string) (string, error)
	LRem(ctx context.Context, key string, value string) (int64, error)
	LRange(ctx context.Context, key string) ([]string, error)

	// Scan returns one batch of keys matching a glob pattern and the cursor
	// for the next batch. A returned cursor of 0 means the scan is complete.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error)
}

// SortKey is one field of a $sort stage. Order is 1 for ascending and -1
// for descending.
type SortKey struct {
	Key   string `json:"key"`
	Order int    `json:"order"`
}

// DocumentStore runs aggregation pipelines against a named collection.
// Stages are backend predicates in the shape produced by the match package.
//
// A $sort stage holds a []SortKey rather than a map, since key order decides
// precedence and Go maps are unordered. Implementations must translate it
// into their driver's ordered sort form (a bson.D for MongoDB, an ORDER BY
// list for SQL) before executing the pipeline.
type DocumentStore interface {
	Aggregate(ctx context.Context, database, collection string, pipeline []map[string]any) ([]map[string]any, error)
}

// ScanAll drains a cursor scan, returning every key matching pattern.
func ScanAll(ctx context.Context, store KVStore, pattern string, count int64) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	seen := make(map[string]struct{})
	for {
		batch, next, err := store.Scan(ctx, cursor, pattern, count)
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			// SCAN may return a key more than once.
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
