// Package apperr defines the error taxonomy shared by the indexing,
// retrieval and segment services.
//
// Errors are plain sentinels combined with fmt.Errorf("%w: ...") wrapping,
// so callers classify failures with errors.Is:
//
//	if errors.Is(err, apperr.ErrConflict) {
//	    // surface "try again" to the caller
//	}
//
// Background-pipeline failures are not propagated through these sentinels;
// they are recorded on the document/segment row as status=error plus the
// stored error text (see internal/indexing).
package apperr

import "errors"

var (
	// ErrNotFound indicates a referenced dataset, document or segment does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller does not own the target resource.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation indicates a malformed request: token ceiling exceeded,
	// invalid process rule shape, no-op state toggle, and similar.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a mutation is already in progress: the
	// per-entity lock is held by another caller. Retryable by the user,
	// never retried internally.
	ErrConflict = errors.New("operation already in progress")

	// ErrTransient indicates a vector-store or relational call failed
	// mid-operation. Whether anything was partially applied depends on the
	// operation; see the per-component failure semantics.
	ErrTransient = errors.New("transient storage failure")
)
