// Package rterr holds the runtime's shared error taxonomy (spec §7): the
// sentinel errors internal/executor, internal/stream and internal/runtime
// raise, for callers to translate into transport errors or retry policy.
package rterr

import "errors"

// Caller mistakes; non-retryable.
var (
	ErrGraphNotFound      = errors.New("graph not found")
	ErrEntryPointNotFound = errors.New("entry point not found")
	ErrStreamBusy         = errors.New("stream busy")
	ErrSessionNotFound    = errors.New("session not found")
)

// ErrCredentialUnavailable is surfaced at stream start; causes
// EXECUTION_FAILED and a setup-interaction signal. Mirrors
// internal/creds.ErrCredentialUnavailable so callers that only import
// internal/rterr can still errors.Is against it after it's wrapped here.
var ErrCredentialUnavailable = errors.New("credential unavailable")

// ErrLLMTransient is retried with bounded backoff inside the step loop.
var ErrLLMTransient = errors.New("transient llm error")

// ErrToolFailed is surfaced as a tool_result with an error payload; the
// model sees it and decides. No framework-level retry.
var ErrToolFailed = errors.New("tool call failed")

// ErrJudgeEscalated stops the node visit and emits EXECUTION_FAILED with
// rationale; persisted outputs are not rolled back.
var ErrJudgeEscalated = errors.New("judge escalated")

// ErrStateLockTimeout is retried with exponential backoff up to 2s; beyond
// that it escalates.
var ErrStateLockTimeout = errors.New("state lock timeout")

// ErrCorruptCursor / ErrCorruptState: on resume the store falls back to the
// previous checkpoint; if none exists, the session is marked failed.
var (
	ErrCorruptCursor = errors.New("corrupt cursor")
	ErrCorruptState  = errors.New("corrupt state")
)
