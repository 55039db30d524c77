// Package session holds the uploader's local pseudo-identity. Uploads are
// unauthenticated: the display name is free text and the uploader ID is a
// locally generated value that is only stable per profile directory.
package session

import (
	"strings"

	"github.com/google/uuid"
	"github.com/mornew/gallery/internal/store"
)

const (
	keyUploaderID  = "uploader_id"
	keyDisplayName = "user_name"
)

// Session is the explicit identity object passed into the scheduler and
// synchronizer at construction. It replaces module-level identity state.
type Session struct {
	kv store.KeyValue
}

// New loads or creates the session backed by the given key-value store. The
// uploader ID is generated on first use and persisted.
func New(kv store.KeyValue) (*Session, error) {
	s := &Session{kv: kv}
	if _, ok := kv.Get(keyUploaderID); !ok {
		if err := kv.Set(keyUploaderID, uuid.New().String()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// UploaderID returns the stable per-profile uploader identifier.
func (s *Session) UploaderID() string {
	id, _ := s.kv.Get(keyUploaderID)
	return id
}

// DisplayName returns the self-declared uploader name, empty if not yet set.
func (s *Session) DisplayName() string {
	name, _ := s.kv.Get(keyDisplayName)
	return name
}

// SetDisplayName stores the uploader name. Blank names are rejected by
// returning without persisting.
func (s *Session) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return s.kv.Set(keyDisplayName, name)
}

// HasName reports whether a display name has been established.
func (s *Session) HasName() bool {
	return s.DisplayName() != ""
}

// SafeName returns the display name transliterated to lowercase Latin for use
// in storage keys, falling back to "user" when nothing survives.
func (s *Session) SafeName() string {
	safe := Transliterate(s.DisplayName())
	if safe == "" {
		return "user"
	}
	return safe
}
