package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDecode           = errors.New("image cannot be decoded")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrLabelMapping     = errors.New("label mapping mismatch")
	ErrInvalidInput     = errors.New("invalid input")
	ErrOverloaded       = errors.New("inference capacity exhausted")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindName returns a short metrics-friendly name for the error kind.
func KindName(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsKind(err, ErrDecode):
		return "decode"
	case IsKind(err, ErrLabelMapping):
		return "label_mapping"
	case IsKind(err, ErrModelUnavailable):
		return "model_unavailable"
	case IsKind(err, ErrInvalidInput):
		return "invalid_input"
	case IsKind(err, ErrOverloaded):
		return "overloaded"
	default:
		return "internal"
	}
}
