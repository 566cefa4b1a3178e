package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDocuments = []byte("documents")
	bucketMeta      = []byte("meta")

	keyActive = []byte("active")

	// ErrNotCached is returned when the local store has no record yet.
	ErrNotCached = errors.New("storage: document not cached")
)

// ActiveRecord describes the last document the daemon served. It is
// written alongside the document bytes so a restart can tell what it is
// loading before the repository is reachable.
type ActiveRecord struct {
	RulesetID int64     `json:"rulesetId"`
	Version   int64     `json:"version"`
	Checksum  string    `json:"checksum"`
	SavedAt   time.Time `json:"savedAt"`
}

// SnapshotStore keeps the last-known-good ruleset document in a local
// Bolt file so the daemon can come up and route even when the repository
// is down.
type SnapshotStore struct {
	db *bolt.DB
}

// OpenSnapshotStore initialises (and migrates) the Bolt-backed store.
func OpenSnapshotStore(path string, options *bolt.Options) (*SnapshotStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage: snapshot store path required")
	}
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDocuments, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SnapshotStore{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *SnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveActive persists the document bytes that just went live, replacing
// whatever was cached before.
func (s *SnapshotStore) SaveActive(rulesetID, version int64, document []byte) error {
	record := ActiveRecord{
		RulesetID: rulesetID,
		Version:   version,
		Checksum:  Checksum(document),
		SavedAt:   time.Now().UTC(),
	}
	meta, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDocuments).Put(keyActive, document); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyActive, meta)
	})
}

// LoadActive returns the cached document and its metadata. The checksum
// is re-verified so a torn write is surfaced as ErrNotCached rather than
// a compile failure downstream.
func (s *SnapshotStore) LoadActive() (ActiveRecord, []byte, error) {
	var (
		record   ActiveRecord
		document []byte
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDocuments).Get(keyActive)
		meta := tx.Bucket(bucketMeta).Get(keyActive)
		if raw == nil || meta == nil {
			return ErrNotCached
		}
		document = make([]byte, len(raw))
		copy(document, raw)
		return json.Unmarshal(meta, &record)
	})
	if err != nil {
		return ActiveRecord{}, nil, err
	}
	if Checksum(document) != record.Checksum {
		return ActiveRecord{}, nil, ErrNotCached
	}
	return record, document, nil
}
