// Package errs holds the error values shared by the cache, the job center
// and the request pipeline.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath is returned for malformed or escaping paths. It is
	// raised before any I/O happens.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound is returned when a path or page resolves to nothing.
	ErrNotFound = errors.New("not found")
	// ErrOverload is returned when the job center cannot take more work.
	ErrOverload = errors.New("overloaded")
	// ErrUnauthorized is returned when the caller lacks a required role.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMetadataParse marks a metadata file that could not be parsed.
	ErrMetadataParse = errors.New("metadata parse error")
	// ErrTransform marks a failed image transformation.
	ErrTransform = errors.New("transform failed")
)

// TransformError wraps a failure of the transform engine for one source file.
type TransformError struct {
	Path string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %v", e.Path, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransform) match any TransformError.
func (e *TransformError) Is(target error) bool {
	return target == ErrTransform
}
