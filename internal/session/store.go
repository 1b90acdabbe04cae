// Package session holds the per-connection session handed to dashboards:
// the caller, their profile and their persisted UI preferences.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

type Preferences struct {
	Theme     Theme     `json:"theme"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// DefaultPreferences applies to identities that never changed a setting.
func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeDark}
}

// Store persists preferences in an embedded LevelDB database keyed by
// identity id.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the database directory at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open preference store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMemory returns a store that lives only in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open in-memory preference store: %w", err)
	}
	return &Store{db: db}, nil
}

func prefsKey(userID string) []byte {
	return []byte("prefs_" + userID)
}

// Get returns the stored preferences, or the defaults.
func (s *Store) Get(_ context.Context, userID string) (Preferences, error) {
	data, err := s.db.Get(prefsKey(userID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("read preferences: %w", err)
	}
	p := DefaultPreferences()
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	if p.Theme != ThemeLight && p.Theme != ThemeDark {
		p.Theme = ThemeDark
	}
	return p, nil
}

func (s *Store) Put(_ context.Context, userID string, p Preferences) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.db.Put(prefsKey(userID), data, nil); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
