package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, sinks, and background
// workers return these (optionally wrapped) so callers can translate them
// into domain errors or retry decisions.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row or key does not exist in the store
// - ErrConflict: a concurrent writer won (e.g. a leader lock already held)
// - ErrUnavailable: broker or store temporarily unreachable, safe to retry
// - ErrInvalidState: record violates a store constraint, never retry
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
)
