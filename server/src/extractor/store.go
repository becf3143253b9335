package extractor

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

const resultsBucket = "results"

// Store caches resolved stream metadata by source URL.
type Store interface {
	Get(url string) (CachedResult, bool)
	Put(url string, result CachedResult) error
	Close() error
}

type CachedResult struct {
	StreamURL  string  `json:"stream_url"`
	Title      string  `json:"title"`
	Format     string  `json:"format"`
	Duration   float64 `json:"duration"`
	ResolvedAt int64   `json:"resolved_at"`
}

type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration
}

func NewBoltStore(path string, ttl time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(resultsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, ttl: ttl}, nil
}

func (s *BoltStore) Get(url string) (CachedResult, bool) {
	var result CachedResult
	found := false

	s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(resultsBucket)).Get([]byte(url))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil
		}
		found = true
		return nil
	})

	if !found {
		return CachedResult{}, false
	}
	if time.Since(time.Unix(result.ResolvedAt, 0)) > s.ttl {
		// Expired entries are overwritten on the next Put; no need to reap.
		return CachedResult{}, false
	}
	return result, true
}

func (s *BoltStore) Put(url string, result CachedResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(resultsBucket)).Put([]byte(url), data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
