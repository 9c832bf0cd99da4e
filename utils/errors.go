package utils

import (
	"github.com/pkg/errors"
)

// NewOutOfRangeError is used when a numeric attribute falls outside its allowed range.
func NewOutOfRangeError(name string, value interface{}, bounds string) error {
	return errors.Errorf("%s must be %s, got %v", name, bounds, value)
}
