// Package kv provides core.KVStore implementations.
//
// This package includes:
//   - GormStore: hashes, lists and expiring values on a SQL database
//     (SQLite or PostgreSQL) through GORM
//   - RedisStore: a thin adapter over a go-redis client
//
// Open picks the SQL driver from a DSN. Hosts that share a Redis server
// with other harvest components should use RedisStore.
package kv
