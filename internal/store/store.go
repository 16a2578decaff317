// Package store provides the shared key/value store abstraction used by
// the Session engine, the password vault, the WalletRotator's rotation
// counters, the honeypot cache, and CircuitBreaker persistence. It stands
// in for the spec's "shared store (may be a Redis replica set)": a single
// logical instance, per-key contention, durable across process restarts.
// The backing implementation is bbolt, already a direct dependency of the
// teacher repo, used the same way the teacher scans its data directory
// for durable on-disk state.
package store

import (
	"encoding/binary"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a key does not exist (or has expired).
var ErrNotFound = errors.New("store: key not found")

// Store is the shared key/value abstraction every ephemeral, TTL-bearing
// or atomic-counter piece of state in this module is built on.
type Store interface {
	// Get fetches the value for key, or ErrNotFound.
	Get(bucket, key string) ([]byte, error)
	// SetTTL stores value under key with an expiry. ttl <= 0 means no
	// expiry.
	SetTTL(bucket, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(bucket, key string) error
	// Incr atomically increments the integer stored at key (creating it
	// at 0 if absent) and returns the post-increment value. Used by the
	// WalletRotator's round-robin counter.
	Incr(bucket, key string) (uint64, error)
	// Close releases the underlying resources.
	Close() error
}

// record is the on-disk envelope: a value plus an absolute expiry time
// (zero means "never expires").
type record struct {
	expiresAt int64 // unix nanos, 0 = no expiry
	value     []byte
}

func encodeRecord(r record) []byte {
	buf := make([]byte, 8+len(r.value))
	binary.BigEndian.PutUint64(buf[:8], uint64(r.expiresAt))
	copy(buf[8:], r.value)
	return buf
}

func decodeRecord(b []byte) (record, error) {
	if len(b) < 8 {
		return record{}, errors.New("store: corrupt record")
	}
	return record{
		expiresAt: int64(binary.BigEndian.Uint64(b[:8])),
		value:     b[8:],
	}, nil
}

// BoltStore is a bbolt-backed Store.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a BoltStore at path.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrNotFound
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if rec.expiresAt != 0 && time.Now().UnixNano() > rec.expiresAt {
			return ErrNotFound
		}
		out = append([]byte(nil), rec.value...)
		return nil
	})
	return out, err
}

func (s *BoltStore) SetTTL(bucket, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), encodeRecord(record{expiresAt: expiresAt, value: value}))
	})
}

func (s *BoltStore) Delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) Incr(bucket, key string) (uint64, error) {
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		raw := b.Get([]byte(key))
		var cur uint64
		if raw != nil {
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if len(rec.value) == 8 {
				cur = binary.BigEndian.Uint64(rec.value)
			}
		}
		next = cur + 1
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, next)
		return b.Put([]byte(key), encodeRecord(record{value: val}))
	})
	return next, err
}

// MemStore is an in-process Store used in tests, avoiding a filesystem
// dependency while preserving the same TTL/atomic-increment semantics.
type MemStore struct {
	data map[string]map[string]record
	mtx  chan struct{} // binary semaphore; avoids importing sync here twice across files
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() *MemStore {
	ms := &MemStore{data: make(map[string]map[string]record), mtx: make(chan struct{}, 1)}
	ms.mtx <- struct{}{}
	return ms
}

func (s *MemStore) lock()   { <-s.mtx }
func (s *MemStore) unlock() { s.mtx <- struct{}{} }

func (s *MemStore) Get(bucket, key string) ([]byte, error) {
	s.lock()
	defer s.unlock()
	b, ok := s.data[bucket]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := b[key]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.expiresAt != 0 && time.Now().UnixNano() > rec.expiresAt {
		delete(b, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.value...), nil
}

func (s *MemStore) SetTTL(bucket, key string, value []byte, ttl time.Duration) error {
	s.lock()
	defer s.unlock()
	b, ok := s.data[bucket]
	if !ok {
		b = make(map[string]record)
		s.data[bucket] = b
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	b[key] = record{expiresAt: expiresAt, value: append([]byte(nil), value...)}
	return nil
}

func (s *MemStore) Delete(bucket, key string) error {
	s.lock()
	defer s.unlock()
	if b, ok := s.data[bucket]; ok {
		delete(b, key)
	}
	return nil
}

func (s *MemStore) Incr(bucket, key string) (uint64, error) {
	s.lock()
	defer s.unlock()
	b, ok := s.data[bucket]
	if !ok {
		b = make(map[string]record)
		s.data[bucket] = b
	}
	var cur uint64
	if rec, ok := b[key]; ok && len(rec.value) == 8 {
		cur = binary.BigEndian.Uint64(rec.value)
	}
	next := cur + 1
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, next)
	b[key] = record{value: val}
	return next, nil
}

func (s *MemStore) Close() error { return nil }
