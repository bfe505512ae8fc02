package service

import (
	"errors"
	"net/http"
)

var (
	ErrPassInProgress    = errors.New("another scheduler pass is in progress")
	ErrSweepInProgress   = errors.New("another reaper sweep is in progress")
	ErrQueueFull         = errors.New("dispatch queue is full")
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// ServiceError is a rejection the caller can act on, carrying an HTTP-style
// status code for the CLI and ops API.
type ServiceError struct {
	Code    int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func NewServiceError(code int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

func invalid(err error) *ServiceError {
	return &ServiceError{Code: http.StatusUnprocessableEntity, Message: err.Error(), Err: err}
}

func conflict(err error) *ServiceError {
	return &ServiceError{Code: http.StatusConflict, Message: err.Error(), Err: err}
}
