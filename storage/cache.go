package storage

import (
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// PutCache stores value as JSON under key
func (s *Storage) PutCache(key string, value interface{}) error {

	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "Unable to marshal cache entry %s", key)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CACHE_BUCKET))
		return b.Put([]byte(key), raw)
	})
}

// GetCache decodes key into out. found is false when nothing is stored.
func (s *Storage) GetCache(key string, out interface{}) (bool, error) {

	var raw []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CACHE_BUCKET))
		if v := b.Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil || raw == nil {
		return false, err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrapf(err, "Unable to decode cache entry %s", key)
	}

	return true, nil
}

func (s *Storage) DeleteCache(key string) error {

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(CACHE_BUCKET)).Delete([]byte(key))
	})
}
