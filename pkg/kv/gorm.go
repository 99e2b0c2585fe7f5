package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

const (
	kindString = "string"
	kindHash   = "hash"
	kindList   = "list"
)

// popAttempts bounds LPop retries when another client pops the same item,
// and ensure retries when another client drops the entry it is locking.
const popAttempts = 5

// ErrWrongKind is returned for an operation against a key holding another
// kind of value, e.g. LPop on a hash.
var ErrWrongKind = errors.New("harvest: key holds the wrong kind of value")

// ErrContended is returned when a key kept disappearing while a write tried
// to lock it.
var ErrContended = errors.New("harvest: key contended")

type kvEntry struct {
	Key       string `gorm:"column:kv_key;primaryKey;size:512"`
	Kind      string `gorm:"size:8;not null"`
	Value     string
	ExpiresAt int64 `gorm:"index;not null;default:0"` // unix nanoseconds, 0 = never
}

func (kvEntry) TableName() string { return "kv_entries" }

type kvField struct {
	Key   string `gorm:"column:kv_key;primaryKey;size:512"`
	Field string `gorm:"primaryKey;size:255"`
	Value string
}

func (kvField) TableName() string { return "kv_hash_fields" }

type kvItem struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Key   string `gorm:"column:kv_key;size:512;index:idx_kv_items_key_seq,priority:1"`
	Seq   int64  `gorm:"not null;index:idx_kv_items_key_seq,priority:2"`
	Value string
}

func (kvItem) TableName() string { return "kv_list_items" }

// GormStore implements core.KVStore on a SQL database through GORM.
// Expired keys are removed lazily on access and by PurgeExpired. Writes to
// a hash or list lock its kv_entries row first, so pushes and pops on one
// list serialize and sequence numbers stay unique.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	o := newOptions(opts)
	return &GormStore{db: db, now: o.now}
}

// NewGormStoreWithPool creates a GORM-backed store with connection pooling
// configured.
func NewGormStoreWithPool(db *gorm.DB, pool []PoolOption, opts ...Option) (*GormStore, error) {
	if err := ConfigurePool(db, pool...); err != nil {
		return nil, err
	}
	return NewGormStore(db, opts...), nil
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&kvEntry{}, &kvField{}, &kvItem{})
}

func (s *GormStore) Get(ctx context.Context, key string) (string, error) {
	e, err := s.live(s.db.WithContext(ctx), key)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", core.ErrKeyNotFound
	}
	if e.Kind != kindString {
		return "", ErrWrongKind
	}
	return e.Value, nil
}

func (s *GormStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := purge(tx, key); err != nil {
			return err
		}
		return tx.Create(&kvEntry{Key: key, Kind: kindString, Value: value, ExpiresAt: s.expiry(ttl)}).Error
	})
}

func (s *GormStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return purge(tx, keys...)
	})
}

// Expire sets a key's time to live. A non-positive ttl deletes the key.
func (s *GormStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := s.lock(tx, key)
		if err != nil || e == nil {
			return err
		}
		if ttl <= 0 {
			return purge(tx, key)
		}
		return tx.Model(&kvEntry{}).Where("kv_key = ?", key).Update("expires_at", s.expiry(ttl)).Error
	})
}

func (s *GormStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	rows := make([]kvField, 0, len(fields))
	for _, f := range names {
		rows = append(rows, kvField{Key: key, Field: f, Value: fields[f]})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensure(tx, key, kindHash); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kv_key"}, {Name: "field"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&rows).Error
	})
}

func (s *GormStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	db := s.db.WithContext(ctx)
	out := make(map[string]string)

	e, err := s.live(db, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return out, nil
	}
	if e.Kind != kindHash {
		return nil, ErrWrongKind
	}

	var rows []kvField
	if err := db.Where("kv_key = ?", key).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

func (s *GormStore) RPush(ctx context.Context, key string, values ...string) error {
	return s.push(ctx, key, values, "COALESCE(MAX(seq), 0)", 1)
}

func (s *GormStore) LPush(ctx context.Context, key string, values ...string) error {
	return s.push(ctx, key, values, "COALESCE(MIN(seq), 0)", -1)
}

func (s *GormStore) push(ctx context.Context, key string, values []string, bound string, step int64) error {
	if len(values) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensure(tx, key, kindList); err != nil {
			return err
		}

		var seq int64
		if err := tx.Model(&kvItem{}).Where("kv_key = ?", key).Select(bound).Scan(&seq).Error; err != nil {
			return err
		}

		items := make([]kvItem, len(values))
		for i, v := range values {
			seq += step
			items[i] = kvItem{Key: key, Seq: seq, Value: v}
		}
		return tx.Create(&items).Error
	})
}

// LPop removes and returns the head of a list. Concurrent poppers never
// receive the same item.
func (s *GormStore) LPop(ctx context.Context, key string) (string, error) {
	for range popAttempts {
		var (
			value  string
			popped bool
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			e, err := s.lock(tx, key)
			if err != nil {
				return err
			}
			if e == nil {
				return core.ErrKeyNotFound
			}
			if e.Kind != kindList {
				return ErrWrongKind
			}

			var head kvItem
			err = tx.Where("kv_key = ?", key).Order("seq ASC").Take(&head).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := purge(tx, key); err != nil {
					return err
				}
				return core.ErrKeyNotFound
			}
			if err != nil {
				return err
			}

			res := tx.Where("id = ?", head.ID).Delete(&kvItem{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil // lost the race, retry
			}
			value, popped = head.Value, true
			return s.dropIfEmpty(tx, key)
		})
		if err != nil {
			return "", err
		}
		if popped {
			return value, nil
		}
	}
	return "", core.ErrKeyNotFound
}

// LRem removes every occurrence of value and returns how many were removed.
func (s *GormStore) LRem(ctx context.Context, key string, value string) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := s.lock(tx, key)
		if err != nil || e == nil {
			return err
		}
		if e.Kind != kindList {
			return ErrWrongKind
		}
		res := tx.Where("kv_key = ? AND value = ?", key, value).Delete(&kvItem{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return s.dropIfEmpty(tx, key)
	})
	return removed, err
}

func (s *GormStore) LRange(ctx context.Context, key string) ([]string, error) {
	db := s.db.WithContext(ctx)
	e, err := s.live(db, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return []string{}, nil
	}
	if e.Kind != kindList {
		return nil, ErrWrongKind
	}

	values := []string{}
	err = db.Model(&kvItem{}).Where("kv_key = ?", key).Order("seq ASC").Pluck("value", &values).Error
	return values, err
}

// Scan pages through live keys matching a glob pattern in key order.
// The cursor is an offset, so keys created during a scan may be missed or
// repeated, as with Redis SCAN. Backends with case-insensitive LIKE
// (SQLite) match case-insensitively.
func (s *GormStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	if count <= 0 {
		count = 10
	}
	if pattern == "" {
		pattern = "*"
	}

	keys := []string{}
	err := s.db.WithContext(ctx).
		Model(&kvEntry{}).
		Where(`kv_key LIKE ? ESCAPE '\'`, globToLike(pattern)).
		Where("(expires_at = 0 OR expires_at > ?)", s.now().UnixNano()).
		Order("kv_key ASC").
		Offset(int(cursor)).
		Limit(int(count)).
		Pluck("kv_key", &keys).Error
	if err != nil {
		return nil, 0, err
	}

	if int64(len(keys)) < count {
		return keys, 0, nil
	}
	return keys, cursor + uint64(len(keys)), nil
}

// Close closes the underlying database.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PurgeExpired removes every expired key and returns how many were removed.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	var keys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&kvEntry{}).
			Where("expires_at > 0 AND expires_at <= ?", s.now().UnixNano()).
			Pluck("kv_key", &keys).Error
		if err != nil || len(keys) == 0 {
			return err
		}
		return purge(tx, keys...)
	})
	return int64(len(keys)), err
}

// live returns the entry for key, removing it when expired.
func (s *GormStore) live(tx *gorm.DB, key string) (*kvEntry, error) {
	return s.take(tx, tx, key)
}

// lock is live with the entry row locked until tx ends. SQLite ignores the
// locking clause; its single connection already serializes transactions.
func (s *GormStore) lock(tx *gorm.DB, key string) (*kvEntry, error) {
	return s.take(tx, tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}), key)
}

func (s *GormStore) take(tx, query *gorm.DB, key string) (*kvEntry, error) {
	var e kvEntry
	err := query.Where("kv_key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.ExpiresAt != 0 && e.ExpiresAt <= s.now().UnixNano() {
		if err := purge(tx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &e, nil
}

// ensure creates the entry for a hash or list key if it is missing and
// locks it. The insert ignores conflicts so concurrent writers creating the
// same key both succeed.
func (s *GormStore) ensure(tx *gorm.DB, key, kind string) error {
	for range popAttempts {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&kvEntry{Key: key, Kind: kind}).Error
		if err != nil {
			return err
		}
		e, err := s.lock(tx, key)
		if err != nil {
			return err
		}
		if e == nil {
			continue // expired, or dropped by a concurrent pop
		}
		if e.Kind != kind {
			return ErrWrongKind
		}
		return nil
	}
	return ErrContended
}

func (s *GormStore) dropIfEmpty(tx *gorm.DB, key string) error {
	var n int64
	if err := tx.Model(&kvItem{}).Where("kv_key = ?", key).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return purge(tx, key)
}

func (s *GormStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

func purge(tx *gorm.DB, keys ...string) error {
	for _, model := range []any{&kvItem{}, &kvField{}, &kvEntry{}} {
		if err := tx.Where("kv_key IN ?", keys).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

// globToLike converts a Redis glob (* and ?) to a LIKE pattern escaped
// with backslash.
func globToLike(glob string) string {
	var b strings.Builder
	b.Grow(len(glob))
	escaped := false
	for _, r := range glob {
		if escaped {
			if r == '%' || r == '_' || r == '\\' {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '*':
			b.WriteRune('%')
		case '?':
			b.WriteRune('_')
		case '%', '_':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
