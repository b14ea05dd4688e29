package models

import "errors"

// Matching error taxonomy. Only ErrConcurrencyConflict during chain
// confirmation is user-visible; everything else degrades to an empty
// result and a log line.
var (
	// ErrNotFound: the triggering entity vanished between event emission
	// and processing. The run aborts silently; no retry is needed.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation: malformed event payload or entity state.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict: an item's status changed between chain
	// discovery and confirmation.
	ErrConcurrencyConflict = errors.New("concurrent state change")

	// ErrCapacityExceeded: the candidate set or chain-search space hit a
	// configured bound; results are partial, not failed.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrDispatchFailed: the notification collaborator was unreachable.
	// Never affects persisted match/chain state.
	ErrDispatchFailed = errors.New("notification dispatch failed")
)
