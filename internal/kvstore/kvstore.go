// Package kvstore provides a small bbolt-backed persisted key-value store
// for stream processing offsets and a TTL'd feature-row cache, replacing the
// Redis dependency of the original Python implementation with an embedded
// store so the compute binary has no external runtime dependency.
package kvstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketOffsets  = []byte("offsets")
	bucketFeatures = []byte("features")
)

// Store wraps a bbolt database with the two buckets this module needs:
// stream offsets (commit_offset/read_offset, §4.9) and a TTL'd feature-row
// cache (keyed by symbol/tf).
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures the
// required buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketOffsets); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketFeatures)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CommitOffset records the last processed ts_event for a stream.
func (s *Store) CommitOffset(stream string, ts int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(ts))
		return b.Put([]byte(stream), buf)
	})
}

// ReadOffset returns the last committed ts_event for a stream, and whether
// one was ever committed.
func (s *Store) ReadOffset(stream string) (ts int64, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOffsets)
		v := b.Get([]byte(stream))
		if v == nil {
			return nil
		}
		ts = int64(binary.BigEndian.Uint64(v))
		ok = true
		return nil
	})
	return ts, ok, err
}

// cacheEntry is the stored envelope for a feature-cache value: the payload
// plus an absolute expiry so GetFeatureCache can lazily evict stale rows.
type cacheEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at_ms"`
}

// PutFeatureCache stores a feature row (or any JSON-marshalable value) for
// (symbol, tf), expiring after ttl plus up to 10% jitter so a fleet of
// identically-configured compute processes doesn't stampede-refresh in
// lockstep.
func (s *Store) PutFeatureCache(symbol, tf string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal feature cache value: %w", err)
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(ttl))
	entry := cacheEntry{Value: raw, ExpiresAt: time.Now().Add(ttl + jitter).UnixMilli()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFeatures).Put([]byte(featureKey(symbol, tf)), data)
	})
}

// GetFeatureCache returns the cached value for (symbol, tf) and unmarshals
// it into dest, if present and not expired.
func (s *Store) GetFeatureCache(symbol, tf string, dest any) (ok bool, err error) {
	var raw []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFeatures).Get([]byte(featureKey(symbol, tf)))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return false, err
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	if time.Now().UnixMilli() >= entry.ExpiresAt {
		_ = s.deleteFeatureCache(symbol, tf)
		return false, nil
	}
	if err := json.Unmarshal(entry.Value, dest); err != nil {
		return false, fmt.Errorf("unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *Store) deleteFeatureCache(symbol, tf string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFeatures).Delete([]byte(featureKey(symbol, tf)))
	})
}

func featureKey(symbol, tf string) string {
	return symbol + "|" + tf
}
