package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewUnknownModelError is used when a config names a driver model that is not built in.
func NewUnknownModelError(kind, model string) error {
	return errors.Errorf("unknown %s model %q", kind, model)
}
