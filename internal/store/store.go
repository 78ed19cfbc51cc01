package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"
)

// FileName is the database file created inside the cache directory.
const FileName = "imageutils.db"

// DefaultHotEntries bounds the in-memory layer when WithHotEntries is not given.
const DefaultHotEntries = 16

// headerSize is the stored-at prefix of every persisted value.
const headerSize = 8

var bucketImages = []byte("images")

var ErrClosed = errors.New("store is closed")

type entry struct {
	StoredAt time.Time
	Data     []byte
}

// encodeEntry lays out a value as an 8-byte big-endian UnixNano timestamp
// followed by the raw payload.
func encodeEntry(e entry) []byte {
	buf := make([]byte, headerSize+len(e.Data))
	binary.BigEndian.PutUint64(buf, uint64(e.StoredAt.UnixNano()))
	copy(buf[headerSize:], e.Data)
	return buf
}

// decodeEntry copies v, which must not be used after its transaction ends.
func decodeEntry(v []byte) (entry, bool) {
	if len(v) < headerSize {
		return entry{}, false
	}
	ts := int64(binary.BigEndian.Uint64(v))
	data := make([]byte, len(v)-headerSize)
	copy(data, v[headerSize:])
	return entry{StoredAt: time.Unix(0, ts).UTC(), Data: data}, true
}

// Stats describes the current contents of a Store.
type Stats struct {
	Path       string `json:"path,omitempty"`
	Persistent bool   `json:"persistent"`
	Entries    int    `json:"entries"`
	Bytes      int64  `json:"bytes"`
	Expired    int    `json:"expired"`
}

// Store is a byte cache backed by BoltDB with a bounded in-memory hot layer.
// Entries older than the configured TTL read as misses. A memory-only store
// keeps at most its hot-layer size of entries.
type Store struct {
	db         *bolt.DB
	path       string
	ttl        time.Duration
	now        func() time.Time
	hotEntries int

	mu     sync.RWMutex
	hot    *lru.Cache[string, entry]
	closed bool
}

type Option func(*Store)

// WithTTL sets the entry lifetime; zero or negative keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithHotEntries sets how many payloads the in-memory layer holds.
func WithHotEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.hotEntries = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (or creates) the store under dir. An empty dir yields a
// memory-only store.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		now:        time.Now,
		hotEntries: DefaultHotEntries,
	}
	for _, apply := range opts {
		if apply != nil {
			apply(s)
		}
	}
	hot, err := lru.New[string, entry](s.hotEntries)
	if err != nil {
		return nil, err
	}
	s.hot = hot

	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s.path = filepath.Join(dir, FileName)
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketImages)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.db = db
	return s, nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *Store) expired(e entry) bool {
	return s.ttl > 0 && s.now().Sub(e.StoredAt) > s.ttl
}

// Get returns the payload stored under key.
func (s *Store) Get(key string) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	hk := hashKey(key)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false
	}
	e, ok := s.hot.Get(hk)
	s.mu.RUnlock()

	if !ok && s.db != nil {
		_ = s.db.View(func(tx *bolt.Tx) error {
			if v := tx.Bucket(bucketImages).Get([]byte(hk)); v != nil {
				e, ok = decodeEntry(v)
			}
			return nil
		})
		if !ok {
			return nil, false
		}

		// Promote to memory
		s.mu.RLock()
		if !s.closed {
			s.hot.Add(hk, e)
		}
		s.mu.RUnlock()
	}

	if !ok {
		return nil, false
	}
	if s.expired(e) {
		_ = s.deleteHashed(hk)
		return nil, false
	}
	return e.Data, true
}

// Put stores data under key, replacing any previous payload.
func (s *Store) Put(key string, data []byte) error {
	if s == nil {
		return ErrClosed
	}
	hk := hashKey(key)
	e := entry{StoredAt: s.now().UTC(), Data: data}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.hot.Add(hk, e)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Put([]byte(hk), encodeEntry(e))
	})
}

func (s *Store) Delete(key string) error {
	if s == nil {
		return ErrClosed
	}
	return s.deleteHashed(hashKey(key))
}

func (s *Store) deleteHashed(hk string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.hot.Remove(hk)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).Delete([]byte(hk))
	})
}

// Clear removes every entry and returns how many were removed.
func (s *Store) Clear() (int, error) {
	if s == nil {
		return 0, ErrClosed
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	removed := s.hot.Len()
	s.hot.Purge()
	s.mu.Unlock()

	if s.db == nil {
		return removed, nil
	}

	removed = 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketImages)
		removed = b.Stats().KeyN
		if err := tx.DeleteBucket(bucketImages); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketImages)
		return err
	})
	return removed, err
}

func (s *Store) Stats() (Stats, error) {
	if s == nil {
		return Stats{}, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, ErrClosed
	}

	st := Stats{Path: s.path, Persistent: s.db != nil}
	count := func(e entry) {
		st.Entries++
		st.Bytes += int64(len(e.Data))
		if s.expired(e) {
			st.Expired++
		}
	}

	if s.db == nil {
		for _, hk := range s.hot.Keys() {
			if e, ok := s.hot.Peek(hk); ok {
				count(e)
			}
		}
		return st, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).ForEach(func(_, v []byte) error {
			if len(v) < headerSize {
				return nil
			}
			count(entry{
				StoredAt: time.Unix(0, int64(binary.BigEndian.Uint64(v))),
				Data:     v[headerSize:],
			})
			return nil
		})
	})
	return st, err
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.hot.Purge()
	s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
