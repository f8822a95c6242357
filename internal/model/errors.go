package model

import "errors"

// Error kinds shared across packages. Concrete errors wrap one of these so
// callers can classify with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrCollision       = errors.New("shift collision")
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("already exists")
	ErrStorage         = errors.New("storage error")
	ErrProvisioning    = errors.New("driver provisioning failed")
	ErrElementNotFound = errors.New("ui element not found")
	ErrConflict        = errors.New("submission rejected by site")
)
