package session

import (
	"context"
	"sync"
	"time"

	"github.com/medicheck/medicheck/internal/domain/profile"
)

// Session is created when a dashboard connects and lives as long as the
// connection. Preference changes are persisted immediately.
type Session struct {
	Caller  profile.Caller
	Profile *profile.Profile

	store *Store
	now   func() time.Time

	mu    sync.Mutex
	prefs Preferences
}

// New loads the caller's preferences from store.
func New(ctx context.Context, store *Store, caller profile.Caller, p *profile.Profile) (*Session, error) {
	prefs, err := store.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Caller: caller, Profile: p, store: store, now: time.Now, prefs: prefs}, nil
}

func (s *Session) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

func (s *Session) Theme() Theme {
	return s.Preferences().Theme
}

// ToggleTheme switches between dark and light and persists the result. On a
// write failure the session keeps its previous theme.
func (s *Session) ToggleTheme(ctx context.Context) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.prefs
	if next.Theme == ThemeDark {
		next.Theme = ThemeLight
	} else {
		next.Theme = ThemeDark
	}
	next.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, s.Caller.ID, next); err != nil {
		return s.prefs, err
	}
	s.prefs = next
	return next, nil
}
