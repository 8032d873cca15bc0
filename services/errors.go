package services

import (
	"errors"
	"fmt"
)

// ErrLockTimeout is returned when a mutual-exclusion lock could not be
// acquired within its timeout. Recovery relies on the next triggered attempt.
var ErrLockTimeout = errors.New("lock_timeout")

// AuthError reports a terminal signature or timestamp failure. Code is one
// of the wire-level error codes (bad_sig, invalid sig, ts_mismatch, ts_skew).
type AuthError struct {
	Code   string
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// ResolutionError reports an unknown case or container. Surfaced verbatim.
type ResolutionError struct {
	Msg string
}

func (e *ResolutionError) Error() string {
	return e.Msg
}

// PersistenceError reports a store write failure. The submission is
// considered failed; there is no internal retry. The upstream source
// redelivers at least once and dedup keys make that safe.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// StageError tags a terminal ingestion failure with the coarse pipeline
// stage it occurred in, so callers surface a structured failure instead of
// raw internals.
type StageError struct {
	Stage string // parse, auth, resolve, map, persist
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// redact shortens secret material for diagnostics, keeping only head and
// tail fragments.
func redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "…" + s[len(s)-4:]
}
