package external

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by ServiceError when the remote answers 404
var ErrNotFound = errors.New("badge not found in external service")

// ServiceError is returned by every client operation that fails, whether
// the remote could not be reached or answered with a non-2xx status.
type ServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("external badge service %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("external badge service %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsServiceError reports whether err came from the external client
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
