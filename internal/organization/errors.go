package organization

import "errors"

var (
	ErrAlreadyExists    = errors.New("organization already exists")
	ErrNotFound         = errors.New("organization not found")
	ErrUnauthenticated  = errors.New("invalid credentials")
	ErrForbidden        = errors.New("not authorized for this organization")
	ErrStoreUnavailable = errors.New("backing store unavailable")
	ErrNothingToUpdate  = errors.New("no fields to update")
)
