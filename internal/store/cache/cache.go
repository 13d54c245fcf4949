// Package cache adds a Redis read-through cache in front of record lookups.
// Records are immutable, so a cached copy stays valid until the record
// expires; the entry TTL never outlives the record's retention window.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"templr/internal/store"

	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "templr:record:"
	// DefaultMaxTTL bounds how long a single entry may live.
	DefaultMaxTTL = time.Hour
)

// Store wraps a store.Store and serves GetRecordByIdentifier from Redis when
// possible. All other methods pass through.
type Store struct {
	store.Store

	rdb    *goredis.Client
	maxTTL time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New wraps next with a cache backed by rdb.
func New(next store.Store, rdb *goredis.Client, maxTTL time.Duration, logger *slog.Logger) *Store {
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Store: next, rdb: rdb, maxTTL: maxTTL, logger: logger, now: time.Now}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// GetRecordByIdentifier returns the cached record or loads it from the
// wrapped store. Cache failures degrade to a direct lookup.
func (s *Store) GetRecordByIdentifier(ctx context.Context, identifier string) (*store.Record, error) {
	key := keyPrefix + identifier

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec store.Record
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if jsonErr := dec.Decode(&rec); jsonErr == nil {
			return &rec, nil
		}
		s.logger.WarnContext(ctx, "discarding corrupt cache entry", "identifier", identifier)
	case !errors.Is(err, goredis.Nil):
		s.logger.WarnContext(ctx, "record cache read failed", "identifier", identifier, "error", err)
	}

	rec, err := s.Store.GetRecordByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	if ttl <= 0 {
		return rec, nil
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return rec, nil
	}
	if err := s.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "record cache write failed", "identifier", identifier, "error", err)
	}
	return rec, nil
}
