// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lockable

import (
	"context"
	"reflect"

	"github.com/AleutianAI/frozen/pkg/capability"
	"github.com/AleutianAI/frozen/pkg/compose"
	"github.com/AleutianAI/frozen/pkg/telemetry"
)

// Of returns the lockable aspect of x's type.
func Of(x compose.Instance) (*Aspect, bool) {
	w := x.Core().Wrapper()
	if w == nil {
		return nil, false
	}
	l, ok := w.Layer(Kind)
	if !ok {
		return nil, false
	}
	a, ok := l.(*Aspect)
	return a, ok
}

// Lock locks x with key.
//
// Returns a StateError (ErrViewImmutable) for views, a UsageError when x is
// not lockable, a LookupError for an unknown key and an AuthorizationError
// (ErrLockDenied) when the caller may not use key.
func Lock(ctx context.Context, x compose.Instance, key string) error {
	a, st, err := prepare(ctx, x, key, "Lock")
	if err != nil {
		return err
	}
	if err := a.authorize(ctx, x, key, a.lockPerms[key], compose.ErrLockDenied); err != nil {
		return err
	}
	st.locks[key] = true
	return nil
}

// Unlock removes key from x. Unlocking a key that is not locked is not an
// error. Errors are as for Lock, with ErrUnlockDenied.
func Unlock(ctx context.Context, x compose.Instance, key string) error {
	a, st, err := prepare(ctx, x, key, "Unlock")
	if err != nil {
		return err
	}
	if err := a.authorize(ctx, x, key, a.unlockPerms[key], compose.ErrUnlockDenied); err != nil {
		return err
	}
	delete(st.locks, key)
	return nil
}

// Locked reports whether x is locked with key. For a view this includes the
// locks held when the view was made.
func Locked(x compose.Instance, key string) (bool, error) {
	a, ok := Of(x)
	if !ok {
		return false, notLockable(x)
	}
	if !a.keys[key] {
		return false, &compose.LookupError{Key: key, Target: x.Core().TypeName()}
	}
	st, ok := x.Core().State(Kind).(*state)
	return ok && st.has(key), nil
}

// Keys returns the keys of x's type, sorted.
func Keys(x compose.Instance) ([]string, error) {
	a, ok := Of(x)
	if !ok {
		return nil, notLockable(x)
	}
	return a.Keys(), nil
}

// Held returns the keys x is locked with, sorted.
func Held(x compose.Instance) ([]string, error) {
	if _, ok := Of(x); !ok {
		return nil, notLockable(x)
	}
	st, ok := x.Core().State(Kind).(*state)
	if !ok {
		return nil, nil
	}
	return st.active(), nil
}

func prepare(ctx context.Context, x compose.Instance, key, op string) (*Aspect, *state, error) {
	e := x.Core()
	if err := compose.RejectView(e, op); err != nil {
		telemetry.RecordGuardFailure(ctx, Kind, compose.KindLabel(err))
		return nil, nil, err
	}
	a, ok := Of(x)
	if !ok {
		return nil, nil, notLockable(x)
	}
	if !a.keys[key] {
		return nil, nil, &compose.LookupError{Key: key, Target: e.TypeName()}
	}
	st, ok := e.State(Kind).(*state)
	if !ok {
		return nil, nil, notLockable(x)
	}
	return a, st, nil
}

// authorize checks the caller against set; a nil set allows everyone.
func (a *Aspect) authorize(ctx context.Context, x compose.Instance, key string, set *capability.Set, kind error) error {
	if set == nil {
		return nil
	}
	d := capability.For(a.wrapper.Class().Registry()).Authorize(ctx, capability.Request{
		Aspect: Kind,
		Set:    set,
	})
	if d.Allowed {
		return nil
	}
	err := &compose.AuthorizationError{
		Kind:   kind,
		Key:    key,
		Caller: d.Caller,
		Target: x.Core().TypeName(),
	}
	telemetry.RecordGuardFailure(ctx, Kind, compose.KindLabel(err))
	return err
}

func notLockable(x compose.Instance) error {
	return &compose.UsageError{Type: reflect.TypeOf(x).String(), Reason: "instance is not lockable"}
}
