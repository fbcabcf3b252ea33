package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// RunError wraps a failure that terminates a run, carrying the StopReason it
// maps to and whether a surrounding queue/worker should retry the whole run.
// Grounded on the teacher's EngagementError retryable/fatal split
// (internal/brain/orchestrator.go), generalized from "retry the engagement"
// to "retry the run".
type RunError struct {
	Reason    StopReason
	Retryable bool
	Err       error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// NewRetryableRunError builds a RunError a worker should requeue.
func NewRetryableRunError(reason StopReason, err error) *RunError {
	return &RunError{Reason: reason, Retryable: true, Err: err}
}

// NewFatalRunError builds a RunError a worker should send straight to the
// dead-letter stream without retrying.
func NewFatalRunError(reason StopReason, err error) *RunError {
	return &RunError{Reason: reason, Retryable: false, Err: err}
}

// ClassifyError decides whether a collaborator-boundary error should be
// retried by the caller, for errors that did not already arrive as a typed
// RunError or ToolResult.error_kind. A RunError anywhere in the chain
// decides by its Retryable flag; any other non-nil error is treated as
// retryable.
func ClassifyError(err error) bool {
	if err == nil {
		return false
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return true
}

// Canonicalize renders args as canonical JSON (stable key order, no
// insignificant whitespace) so that two structurally-equal argument sets
// produce an identical byte string regardless of how they were marshaled.
// Used for action-signature hashing (spec glossary: "Action signature").
func Canonicalize(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		// Not valid JSON; hash the raw bytes verbatim rather than failing
		// loop detection outright.
		return string(args)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(args)
	}
	return string(out)
}

// ActionSignature is the stable hash of (tool_name, canonicalized_args)
// used by the Runner's loop detector.
func ActionSignature(toolName string, args json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(Canonicalize(args)))
	return hex.EncodeToString(h.Sum(nil))
}

// StateFingerprint hashes a set of salient facts into the stable digest the
// no-state-change detector compares across steps.
func StateFingerprint(facts []string) string {
	h := sha256.New()
	for _, f := range facts {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// salientFactsMaxLen bounds how much of a raw observation feeds the
// no-state-change fingerprint; the core has no semantic fact extractor, so
// this is the stand-in that makes StateFingerprint vary with real content.
const salientFactsMaxLen = 2000

// salientFacts extracts the facts StateFingerprint hashes from a raw
// observation. Without an LLM-backed extractor the core can't summarize
// meaning, so it falls back to the raw text itself, bounded so a single huge
// tool output doesn't dominate the prompt budget elsewhere it's reused.
func salientFacts(raw string) []string {
	if raw == "" {
		return nil
	}
	if len(raw) > salientFactsMaxLen {
		raw = raw[:salientFactsMaxLen]
	}
	return []string{raw}
}
