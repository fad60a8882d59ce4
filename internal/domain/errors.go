package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

type AuthError struct{ Msg string }

func (e *AuthError) Error() string { return e.Msg }

type PermissionError struct{ Msg string }

func (e *PermissionError) Error() string { return e.Msg }

type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Kind)
}

type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

// TransientStoreError wraps a failure of an underlying store.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// StoreFailure wraps err as a TransientStoreError unless it already carries a
// domain error.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	return &TransientStoreError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the client-facing error kinds.
func IsDomainError(err error) bool {
	var (
		v *ValidationError
		a *AuthError
		p *PermissionError
		n *NotFoundError
		c *ConflictError
	)
	return errors.As(err, &v) || errors.As(err, &a) || errors.As(err, &p) ||
		errors.As(err, &n) || errors.As(err, &c)
}

// HTTPStatus maps err onto a response code.
func HTTPStatus(err error) int {
	var (
		v *ValidationError
		a *AuthError
		p *PermissionError
		n *NotFoundError
		c *ConflictError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &v):
		return http.StatusBadRequest
	case errors.As(err, &a):
		return http.StatusUnauthorized
	case errors.As(err, &p):
		return http.StatusForbidden
	case errors.As(err, &n):
		return http.StatusNotFound
	case errors.As(err, &c):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
