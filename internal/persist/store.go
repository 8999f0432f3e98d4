package persist

import (
	"errors"
	"fmt"
	"log"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketServerData = []byte("serverdata")

var ErrNoData = errors.New("persist: no stored data for world")

// Store keeps one channel-state blob per world in a bbolt database. It is
// only touched from the periodic save job, never from message handlers.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketServerData)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveWorld overwrites the blob for one world.
func (s *Store) SaveWorld(world string, blob []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServerData).Put([]byte(world), blob)
	})
	if err != nil {
		return fmt.Errorf("save world %q: %w", world, err)
	}
	log.Printf("[PERSIST] Saved %d bytes for world %q", len(blob), world)
	return nil
}

// LoadWorld returns the stored blob, or ErrNoData if the world was never
// saved.
func (s *Store) LoadWorld(world string) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketServerData).Get([]byte(world))
		if v == nil {
			return ErrNoData
		}
		blob = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}
