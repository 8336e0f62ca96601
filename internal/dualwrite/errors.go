package dualwrite

import (
	"github.com/pkg/errors"
)

// Sentinel errors. Callers compare with errors.Is; every returned error wraps
// at most one of them.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid request")
	ErrPartialWrite = errors.New("partial dual write")
)

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

func forbidden(format string, args ...interface{}) error {
	return errors.Wrapf(ErrForbidden, format, args...)
}

func notFound(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrPartialWrite):
		return "partial"
	}
	return "error"
}
