package storage

import (
	"bytes"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"satslink/util"
)

const (
	SESSION = "session"
)

func (s *Storage) SaveSession(raw []byte) error {

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CONFIG_BUCKET))
		return b.Put([]byte(SESSION), raw)
	})
}

// LoadSession returns nil when no session was saved
func (s *Storage) LoadSession() ([]byte, error) {

	var raw []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CONFIG_BUCKET))
		if v := b.Get([]byte(SESSION)); v != nil {
			raw = append([]byte(nil), v...)
		}

		return nil
	})

	return raw, err
}

func (s *Storage) DeleteSession() error {

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CONFIG_BUCKET))
		return b.Delete([]byte(SESSION))
	})
}

func (s *Storage) AddGatewayEndpoint(endpoint string) (int, error) {

	var endpointId int = 0

	endpoint = util.NormalizeEndpoint(endpoint)
	if endpoint == "" {
		return 0, errors.New("Empty endpoint")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CONFIG_BUCKET)).Bucket([]byte(ENDPOINTS_BUCKET))
		if b == nil {
			return errors.New("AddGatewayEndpoint - Unable to locate endpoints bucket")
		}

		var foundDup bool
		endpointBytes := []byte(endpoint)

		if err := b.ForEach(func(k, v []byte) error {
			if bytes.Equal(v, endpointBytes) {
				foundDup = true
				endpointId = btoi(k)
			}
			return nil
		}); err != nil {
			return err
		}

		if foundDup {
			return nil
		}

		id, _ := b.NextSequence()
		endpointId = int(id)

		return b.Put(itob(int(id)), endpointBytes)
	})

	return endpointId, err
}

func (s *Storage) GetGatewayEndpoints() (map[int]string, error) {

	endpoints := make(map[int]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CONFIG_BUCKET)).Bucket([]byte(ENDPOINTS_BUCKET))
		if b == nil {
			return errors.New("GetGatewayEndpoints - Unable to locate endpoints bucket")
		}

		return b.ForEach(func(k, v []byte) error {
			endpoints[btoi(k)] = string(v)
			return nil
		})
	})

	return endpoints, err
}

// GatewayEndpointList returns the endpoints in the order they were added
func (s *Storage) GatewayEndpointList() ([]string, error) {

	var endpoints []string

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CONFIG_BUCKET)).Bucket([]byte(ENDPOINTS_BUCKET))
		if b == nil {
			return errors.New("GatewayEndpointList - Unable to locate endpoints bucket")
		}

		// Keys are big endian ids, so cursor order is insertion order
		return b.ForEach(func(k, v []byte) error {
			endpoints = append(endpoints, string(v))
			return nil
		})
	})

	return endpoints, err
}

func (s *Storage) DeleteGatewayEndpoint(endpointId int) error {

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CONFIG_BUCKET)).Bucket([]byte(ENDPOINTS_BUCKET))
		if b == nil {
			return errors.New("Unable to locate endpoints bucket")
		}

		return b.Delete(itob(endpointId))
	})
}

// AddDefaultEndpoints seeds the gateway list on first run only. Once the
// sequence has moved the user's edits win, including deletions.
func (s *Storage) AddDefaultEndpoints(nc *util.NetworkConstants) error {

	var currentSeq uint64

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(CONFIG_BUCKET)).Bucket([]byte(ENDPOINTS_BUCKET))
		if b == nil {
			return errors.New("AddDefaultEndpoints - Unable to locate endpoints bucket")
		}
		currentSeq = b.Sequence()

		return nil
	})
	if err != nil {
		return err
	}

	if currentSeq > 0 {
		return nil
	}

	for _, e := range nc.GatewayEndpoints {
		if _, err := s.AddGatewayEndpoint(e); err != nil {
			return errors.Wrapf(err, "Unable to add default endpoint %s", e)
		}
	}

	return nil
}

// notifiersBucket holds one JSON config per notifier, nested under CONFIG
func notifiersBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(CONFIG_BUCKET)).Bucket([]byte(NOTIFICATIONS_BUCKET))
	if b == nil {
		return nil, errors.New("Unable to locate notifications bucket")
	}

	return b, nil
}

// GetNotifiersConfig returns nil for a notifier that was never configured
func (s *Storage) GetNotifiersConfig(notifier string) ([]byte, error) {

	var config []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := notifiersBucket(tx)
		if err != nil {
			return err
		}

		if v := b.Get([]byte(notifier)); v != nil {
			config = append([]byte(nil), v...)
		}

		return nil
	})

	return config, errors.Wrapf(err, "Unable to read %s config", notifier)
}

func (s *Storage) SaveNotifiersConfig(notifier string, config []byte) error {

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := notifiersBucket(tx)
		if err != nil {
			return err
		}

		return b.Put([]byte(notifier), config)
	})

	return errors.Wrapf(err, "Unable to save %s config", notifier)
}
