package models

import "fmt"

// ValidationError reports caller input that cannot be stored: a missing
// required field, a reserved field supplied on a new record, a duplicate
// id without the update flag, or a delete targeting the wrong verb.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	if e.Reason == "" {
		return "validation failed"
	}
	return e.Reason
}

// Is enables errors.Is matching on ValidationError.
func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

// ErrValidation is the sentinel for errors.Is checks.
var ErrValidation = ValidationError{}

// NotFoundError represents a single-key fetch on a nonexistent record.
type NotFoundError struct {
	Bucket string
	ID     string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "record not found"
	}
	return fmt.Sprintf("%s/%s not found", e.Bucket, e.ID)
}

func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

var ErrNotFound = NotFoundError{}

// ConfigurationError means a required collaborator was not supplied at
// construction time.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	if e.Reason == "" {
		return "invalid configuration"
	}
	return e.Reason
}

func (e ConfigurationError) Is(target error) bool {
	_, ok := target.(ConfigurationError)
	if ok {
		return true
	}
	_, ok = target.(*ConfigurationError)
	return ok
}

var ErrConfiguration = ConfigurationError{}

// StoreError wraps an underlying storage failure.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("store error: %v", e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e StoreError) Unwrap() error { return e.Err }

func (e StoreError) Is(target error) bool {
	_, ok := target.(StoreError)
	if ok {
		return true
	}
	_, ok = target.(*StoreError)
	return ok
}
