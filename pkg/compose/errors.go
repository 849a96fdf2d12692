// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/frozen/pkg/registry"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

// Error families. Every typed error below matches exactly one of these with
// errors.Is.
var (
	// ErrUsage indicates a composition API was used incorrectly.
	ErrUsage = errors.New("usage error")

	// ErrAuthorization indicates the caller is not allowed to perform an
	// operation.
	ErrAuthorization = errors.New("authorization error")

	// ErrState indicates per-instance state blocks the operation.
	ErrState = errors.New("state error")

	// ErrConfiguration indicates an aspect was declared without an
	// enforceable policy.
	ErrConfiguration = errors.New("configuration error")

	// ErrLookup indicates an unknown lock key.
	ErrLookup = errors.New("lookup error")
)

// Error kinds, matched in addition to the family.
var (
	// ErrFrozen indicates a guarded method was called on a frozen instance.
	ErrFrozen = errors.New("instance is frozen")

	// ErrLocked indicates a guarded method was called while one of its keys
	// is locked.
	ErrLocked = errors.New("method is locked")

	// ErrViewImmutable indicates a mutator was called through a view.
	ErrViewImmutable = errors.New("view is immutable")

	// ErrAlienCall indicates a guarded method was called from a class that
	// is not a friend.
	ErrAlienCall = errors.New("alien call")

	// ErrLockDenied indicates the caller may not lock with a key.
	ErrLockDenied = errors.New("lock denied")

	// ErrUnlockDenied indicates the caller may not unlock with a key.
	ErrUnlockDenied = errors.New("unlock denied")

	// ErrNotCallable indicates an aspect operation is disabled for the type.
	ErrNotCallable = errors.New("operation not callable")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports incorrect use of the composition API. It is returned at
// composition or construction time.
type UsageError struct {
	// Type is the user type involved, if any.
	Type string

	// Reason describes the misuse.
	Reason string

	// Cause is the underlying error if any.
	Cause error
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	msg := "compose: " + e.Reason
	if e.Type != "" {
		msg = "compose: " + e.Type + ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *UsageError) Unwrap() error { return e.Cause }

// Is matches ErrUsage.
func (e *UsageError) Is(target error) bool { return target == ErrUsage }

// AuthorizationError reports a denied capability check.
type AuthorizationError struct {
	// Kind is ErrAlienCall, ErrLockDenied, ErrUnlockDenied or ErrNotCallable.
	Kind error

	// Method is the guarded method or aspect operation.
	Method string

	// Key is the lock key for lock and unlock denials.
	Key string

	// Caller is the class that was denied, nil if the call did not originate
	// from a classified method.
	Caller *registry.Class

	// Target is the type of the instance.
	Target string
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	caller := "none"
	if e.Caller != nil {
		caller = e.Caller.Name()
	}
	switch e.Kind {
	case ErrAlienCall:
		return fmt.Sprintf("alien %s is not allowed to call %s.%s", caller, e.Target, e.Method)
	case ErrLockDenied:
		return fmt.Sprintf("%s is not allowed to lock %s with key %q", caller, e.Target, e.Key)
	case ErrUnlockDenied:
		return fmt.Sprintf("%s is not allowed to unlock %s with key %q", caller, e.Target, e.Key)
	case ErrNotCallable:
		return fmt.Sprintf("%s is not callable on %s", e.Method, e.Target)
	}
	return fmt.Sprintf("%s denied calling %s on %s", caller, e.Method, e.Target)
}

// Is matches ErrAuthorization and the kind.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrAuthorization || (e.Kind != nil && target == e.Kind)
}

// StateError reports a call blocked by per-instance state.
type StateError struct {
	// Kind is ErrFrozen, ErrLocked or ErrViewImmutable.
	Kind error

	Method string

	// Key is the locked key for ErrLocked.
	Key string

	Target string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	switch e.Kind {
	case ErrFrozen:
		return fmt.Sprintf("calling %s on frozen %s is not possible; copy the instance first", e.Method, e.Target)
	case ErrLocked:
		return fmt.Sprintf("%s.%s is locked with key %q", e.Target, e.Method, e.Key)
	case ErrViewImmutable:
		return fmt.Sprintf("%s cannot be called through a view of %s", e.Method, e.Target)
	}
	return fmt.Sprintf("%s blocked on %s", e.Method, e.Target)
}

// Is matches ErrState and the kind.
func (e *StateError) Is(target error) bool {
	return target == ErrState || (e.Kind != nil && target == e.Kind)
}

// ConfigurationError reports an aspect declared without a policy.
type ConfigurationError struct {
	Aspect string
	Type   string
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: %s", e.Aspect, e.Reason)
	}
	return fmt.Sprintf("%s on %s: %s", e.Aspect, e.Type, e.Reason)
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// LookupError reports an unrecognized lock key.
type LookupError struct {
	Key    string
	Target string
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	return fmt.Sprintf("unrecognized key %q for %s", e.Key, e.Target)
}

// Is matches ErrLookup.
func (e *LookupError) Is(target error) bool { return target == ErrLookup }

// KindLabel returns a short label for err's kind, used as a metric label.
func KindLabel(err error) string {
	for _, k := range []struct {
		err   error
		label string
	}{
		{ErrFrozen, "frozen"},
		{ErrLocked, "locked"},
		{ErrViewImmutable, "view"},
		{ErrAlienCall, "alien"},
		{ErrLockDenied, "lock_denied"},
		{ErrUnlockDenied, "unlock_denied"},
		{ErrNotCallable, "not_callable"},
		{ErrLookup, "lookup"},
		{ErrUsage, "usage"},
	} {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "other"
}

func usageErrorf(typ string, format string, args ...any) error {
	return &UsageError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}
