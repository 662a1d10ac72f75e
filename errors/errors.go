// Package errors declares the sentinel error taxonomy shared by every
// allocator strategy: INSUFFICIENT, BAD_POINTER, BAD_INIT and
// CORRUPTED_STATE from the allocator's error handling design.
//
// Allocate and Free keep signaling failure through their ordinary
// null/false return values on the hot path; these sentinels are the
// underlying cause, logged by the ambient log package and available to
// callers that want to distinguish "pool exhausted" from "corrupted".
package errors

import "errors"

// ErrInsufficient reports that no free block large enough for the
// request exists. Never fatal: Allocate returns nil.
var ErrInsufficient = errors.New("allocator: insufficient memory")

// ErrBadPointer reports that Free was handed a pointer whose bookkeeping
// could not be located, or whose integrity check failed. The
// allocator's state is left unchanged.
var ErrBadPointer = errors.New("allocator: bad pointer")

// ErrBadInit reports that Init was given a region violating the
// strategy's precondition (wrong multiple, too small, misaligned). The
// instance is left unconfigured.
var ErrBadInit = errors.New("allocator: bad init")

// ErrCorrupted reports that an internal invariant check failed. This is
// a programming error, not a recoverable condition, and callers that
// observe it should treat the allocator instance as unusable.
var ErrCorrupted = errors.New("allocator: corrupted state")
