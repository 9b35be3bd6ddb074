package vector

import (
	"errors"
	"fmt"
)

// DimensionMismatchError reports an attempt to compare vectors of
// different dimensions. Always fatal, never coerced by truncation or
// padding.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %d vs %d", e.Want, e.Got)
}

func IsDimensionMismatch(err error) bool {
	var mismatchErr *DimensionMismatchError
	return errors.As(err, &mismatchErr)
}

// StoreError wraps persistence failures so callers can tell them apart
// from provider failures.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func IsStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}
