// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the closed error-kind taxonomy the engine uses to
// classify failures across tool execution, LLM calls, checkpointing, and
// orchestration. Every engine-originated failure is a *Error with one of
// the Kinds below; callers switch on Kind rather than doing string matching
// or type assertions against provider-specific error types.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of error categories the engine can surface.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindRateLimit      Kind = "rate_limit"
	KindCircuitOpen    Kind = "circuit_open"
	KindTimeout        Kind = "timeout"
	KindToolError      Kind = "tool_error"
	KindProviderError  Kind = "provider_error"
	KindCheckpoint     Kind = "checkpoint_error"
	KindCancelled      Kind = "cancelled"
	KindNotFound       Kind = "not_found"
	KindRepository     Kind = "repository_error"
	KindConfiguration  Kind = "configuration_error"
	KindInternal       Kind = "internal"
)

// Error is the single structured error type the engine raises internally.
// It intentionally mirrors the (message, code, details) shape of the
// original system's exception hierarchy: a fixed Kind plays the role of
// "code", and Details carries the same free-form per-kind fields
// (retry_after, service_name, provider, resource_type/id, ...).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, errors.New(KindTimeout, "")) style comparisons
// by Kind alone when Cause/Message differ.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured details and returns the same error for chaining.
func (e *Error) WithDetails(d map[string]any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	for k, v := range d {
		e.Details[k] = v
	}
	return e
}

// RetryAfter returns the retry_after detail for rate-limit errors, if present.
func (e *Error) RetryAfter() (int, bool) {
	if e.Details == nil {
		return 0, false
	}
	v, ok := e.Details["retry_after"]
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// KindOf extracts the Kind from an error, defaulting to KindInternal when
// err is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether a failure of this kind should be retried with
// backoff by the tool executor, versus classified as permanent.
func Retryable(kind Kind) bool {
	switch kind {
	case KindRateLimit, KindTimeout, KindProviderError:
		return true
	default:
		return false
	}
}
