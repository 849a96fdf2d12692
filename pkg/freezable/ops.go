// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package freezable

import (
	"context"
	"reflect"

	"github.com/AleutianAI/frozen/pkg/compose"
	"github.com/AleutianAI/frozen/pkg/telemetry"
)

// Of returns the freezable aspect of x's type.
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

// Frozen reports whether x is frozen. Instances without the aspect are never
// frozen; views always are.
func Frozen(x compose.Instance) bool {
	st, ok := x.Core().State(Kind).(*state)
	return ok && st.frozen
}

// Freeze freezes x, and with deep also every freezable instance reachable
// from it through freezable instances.
//
// Returns an AuthorizationError (ErrNotCallable) when the type does not let
// Freeze, a StateError (ErrViewImmutable) for views and a UsageError when x
// is not freezable.
func Freeze(ctx context.Context, x compose.Instance, deep bool) error {
	return toggle(ctx, x, deep, true)
}

// Melt unfreezes x, and with deep its freezable descendants. Errors are as
// for Freeze, governed by LetMelt.
func Melt(ctx context.Context, x compose.Instance, deep bool) error {
	return toggle(ctx, x, deep, false)
}

func toggle(ctx context.Context, x compose.Instance, deep, frozen bool) error {
	op, allowed := "Melt", func(a *Aspect) bool { return a.letMelt }
	if frozen {
		op, allowed = "Freeze", func(a *Aspect) bool { return a.letFreeze }
	}

	e := x.Core()
	if err := compose.RejectView(e, op); err != nil {
		telemetry.RecordGuardFailure(ctx, Kind, compose.KindLabel(err))
		return err
	}
	a, ok := Of(x)
	if !ok {
		return notFreezable(x)
	}
	if !allowed(a) {
		err := &compose.AuthorizationError{Kind: compose.ErrNotCallable, Method: op, Target: e.TypeName()}
		telemetry.RecordGuardFailure(ctx, Kind, compose.KindLabel(err))
		return err
	}
	setFrozen(x, frozen, deep)
	return nil
}

// setFrozen sets the state without consulting the let flags. Deep visits
// the children of freezable instances only.
func setFrozen(x compose.Instance, frozen, deep bool) {
	if st, ok := x.Core().State(Kind).(*state); ok {
		st.frozen = frozen
	}
	if !deep {
		return
	}
	for d := range compose.Descendants(x, isFreezable) {
		if st, ok := d.Core().State(Kind).(*state); ok {
			st.frozen = frozen
		}
	}
}

func isFreezable(x compose.Instance) bool {
	_, ok := Of(x)
	return ok
}

func notFreezable(x compose.Instance) error {
	return &compose.UsageError{Type: reflect.TypeOf(x).String(), Reason: "instance is not freezable"}
}

// =============================================================================
// Copy
// =============================================================================

// CopyOption configures Copy.
type CopyOption func(*copyOptions)

type copyOptions struct {
	deep      bool
	frozen    bool
	setFrozen bool
}

// Deep selects a deep copy. Default: true.
func Deep(deep bool) CopyOption {
	return func(o *copyOptions) { o.deep = deep }
}

// WithFrozen sets the frozen state of the copy, and with a deep copy of its
// freezable descendants. By default the copy keeps the source's states.
func WithFrozen(frozen bool) CopyOption {
	return func(o *copyOptions) {
		o.frozen = frozen
		o.setFrozen = true
	}
}

// Copy returns a copy of x. The copy may be melted regardless of LetMelt,
// which is how a frozen instance is turned into a mutable one.
//
// Returns a StateError (ErrViewImmutable) for views and a UsageError when x
// is not freezable.
func Copy[T any, PT interface {
	*T
	compose.Instance
}](x PT, opts ...CopyOption) (PT, error) {
	o := copyOptions{deep: true}
	for _, opt := range opts {
		opt(&o)
	}
	if x.Core().IsView() {
		return nil, compose.RejectView(x.Core(), "Copy")
	}
	if _, ok := Of(x); !ok {
		return nil, notFreezable(x)
	}
	out, err := compose.Clone(x, o.deep)
	if err != nil {
		return nil, err
	}
	if o.setFrozen {
		setFrozen(out, o.frozen, o.deep)
	}
	return out, nil
}
