package domain

import (
	"errors"
	"fmt"
)

// ErrCategoryNotFound is returned by queries for a category that was never discovered.
var ErrCategoryNotFound = errors.New("category not found")

// FetchError is a transport or HTTP status failure talking to the origin.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means the page loaded but its expected structure was missing.
type ParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps any failure of the content store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage returns nil for a nil err.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// SummarizationError never leaves the summarizer; it is only logged.
type SummarizationError struct {
	Provider string
	Err      error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarize via %s: %v", e.Provider, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

func IsFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
