package store

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrNamespaceExists   = errors.New("namespace already exists")
	ErrNamespaceNotFound = errors.New("namespace not found")
)
