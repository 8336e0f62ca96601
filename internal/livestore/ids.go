package livestore

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PushChild allocates a new child key under p. Keys are UUIDv7 strings, so
// children sort in creation order. Nothing is written.
func (s *Store) PushChild(p string) (string, error) {
	if _, err := cleanPath(p); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "allocate push id")
	}
	return id.String(), nil
}
