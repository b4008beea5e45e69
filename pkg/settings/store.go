// Package settings persists operator-adjustable device state between runs
// in a bbolt database.
package settings

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket      = "obsctl"
	settingsKey = "device_settings"
)

// Settings is the persisted device state.
type Settings struct {
	// FocuserMaxPosition narrows the focuser travel limit, on top of any
	// limit from the config file. Zero means no override.
	FocuserMaxPosition int `json:"focuser_max_position,omitempty"`

	// LastFocusPosition is the last commanded focus target, used as the
	// default target when none is given.
	LastFocusPosition int `json:"last_focus_position"`

	// MountParked records whether the mount was left parked.
	MountParked bool `json:"mount_parked"`
}

var defaultSettings = Settings{}

type Store struct {
	db *bolt.DB
}

// NewStore creates a settings store, writing defaults on first run.
func NewStore(db *bolt.DB) (*Store, error) {
	st := Store{db: db}

	if _, err := st.Get(); err != nil {
		log.Info("Writing default device settings")
		if err := st.Set(defaultSettings); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

// Set saves the settings as a json string in the database.
func (s *Store) Set(settings Settings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, _ := json.Marshal(settings)
		return b.Put([]byte(settingsKey), value)
	})
}

// Get retrieves the settings from the database.
func (s *Store) Get() (Settings, error) {
	var settings Settings

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(settingsKey))
		if value == nil {
			return fmt.Errorf("key %s not found", settingsKey)
		}

		return json.Unmarshal(value, &settings)
	})

	return settings, err
}
