// Package apperr defines the sentinel error kinds PVN core components wrap
// with context via fmt.Errorf("...: %w", ...), per spec.md §7.
package apperr

import "errors"

var (
	// ErrValidation marks a PVN description that failed schema or semantic
	// validation. Surfaced as HTTP 400; never mutates state.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateClient marks an attempt to provision a PVN for a client_ip
	// that already has a non-DELETED PVN.
	ErrDuplicateClient = errors.New("a PVN for this source IP address already exists")

	// ErrInvalidState marks a PVNModel state-machine precondition failure
	// (PVNInvalidState in spec.md terms). Treated as a bug signal internally
	// and triggers forced teardown.
	ErrInvalidState = errors.New("pvn is not in the required state for this operation")

	// ErrNotFound marks a missing port, rule, or PVN lookup.
	ErrNotFound = errors.New("resource not found")

	// ErrTransientProvisioning marks a downstream API timeout or a container
	// that never left "creating"/"created".
	ErrTransientProvisioning = errors.New("transient provisioning failure")
)

// Is reports whether err wraps target anywhere in its chain. Thin wrapper so
// call sites don't need to import errors directly alongside apperr.
func Is(err, target error) bool { return errors.Is(err, target) }
