package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMissingID is returned when an id-targeted operation receives no id.
	ErrMissingID = errors.New("strata: missing id field")

	// ErrNotFound is returned when no entity matches the given id(s).
	ErrNotFound = errors.New("strata: entity not found")

	// ErrValidationFailed is returned by validators when a payload is rejected.
	ErrValidationFailed = errors.New("strata: validation failed")

	// ErrConnectionFailed is returned when an adapter cannot connect and
	// auto-reconnect is disabled.
	ErrConnectionFailed = errors.New("strata: adapter connection failed")

	// ErrDisconnectFailed is returned when an adapter fails to disconnect.
	ErrDisconnectFailed = errors.New("strata: adapter disconnect failed")

	// ErrInvalidParams is returned when raw parameters cannot be sanitized.
	ErrInvalidParams = errors.New("strata: invalid parameters")

	// ErrNotConnected is returned by adapters used before Connect.
	ErrNotConnected = errors.New("strata: adapter not connected")

	// ErrAlreadyExists is returned by adapters when inserting a duplicate id.
	ErrAlreadyExists = errors.New("strata: entity already exists")

	// ErrClosed is returned to callers waiting on a connection that was
	// abandoned by DisconnectAll.
	ErrClosed = errors.New("strata: registry closed")
)

// MissingIDError reports an id-targeted call without the primary field.
type MissingIDError struct {
	Field  string
	Params Params
}

func (e *MissingIDError) Error() string {
	return fmt.Sprintf("strata: missing id field %q in params", e.Field)
}

func (e *MissingIDError) Is(target error) bool { return target == ErrMissingID }

// NotFoundError carries the id exactly as the caller supplied it.
type NotFoundError struct {
	ID any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("strata: entity not found: %v", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError lists field-level validation messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "strata: validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

// ConnectionError wraps a connect failure for a tenant.
type ConnectionError struct {
	Tenant string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("strata: connect adapter for tenant %q: %v", e.Tenant, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

// DisconnectError wraps a disconnect failure for a tenant.
type DisconnectError struct {
	Tenant string
	Err    error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("strata: disconnect adapter for tenant %q: %v", e.Tenant, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

func (e *DisconnectError) Is(target error) bool { return target == ErrDisconnectFailed }
