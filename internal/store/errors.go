package store

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrOptimisticLock = errors.New("optimistic lock conflict: record was modified concurrently")
)
