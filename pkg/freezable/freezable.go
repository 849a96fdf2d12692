// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package freezable lets instances of a composed type be frozen.
//
// Methods marked with Method fail with a StateError while the instance is
// frozen. Freeze and Melt are permitted per type with LetFreeze and LetMelt;
// constructing with the "frozen" argument and copying with Frozen ignore
// those flags. Views are always frozen.
//
// Example:
//
//	typ, err := compose.Define[Account](reg).
//		Methods(freezable.Method("Withdraw")...).
//		Build(freezable.New(freezable.LetMelt(true)))
//	acct := typ.MustNew(compose.Kw("frozen", true))
//	err = acct.Withdraw(ctx, 10) // ErrFrozen
package freezable

import (
	"context"
	"maps"

	"github.com/AleutianAI/frozen/pkg/compose"
)

// Kind is the aspect kind.
const Kind = "freezable"

// Option configures the aspect.
type Option func(*Aspect)

// LetFreeze permits Freeze on the type. Default: true.
func LetFreeze(allow bool) Option {
	return func(a *Aspect) { a.letFreeze = allow }
}

// LetMelt permits Melt on the type. Default: false.
func LetMelt(allow bool) Option {
	return func(a *Aspect) { a.letMelt = allow }
}

// Aspect is the freezable aspect of one composed type.
type Aspect struct {
	letFreeze bool
	letMelt   bool
	guarded   map[string]bool
	wrapper   *compose.Wrapper
}

type state struct {
	frozen bool
}

// New returns a freezable aspect.
func New(opts ...Option) *Aspect {
	a := &Aspect{letFreeze: true, guarded: make(map[string]bool)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Method marks methods as guarded by the freezable aspect.
func Method(names ...string) []compose.MethodSpec {
	specs := make([]compose.MethodSpec, len(names))
	for i, n := range names {
		specs[i] = compose.MethodSpec{Kind: Kind, Method: n}
	}
	return specs
}

// Kind implements compose.Aspect.
func (a *Aspect) Kind() string { return Kind }

// Signature implements compose.Aspect.
func (a *Aspect) Signature() compose.Signature { return compose.Params("frozen") }

// Validate implements compose.Aspect. Every configuration is valid.
func (a *Aspect) Validate() error { return nil }

// Merge keeps the methods guarded by the ancestor's aspect. The flags of the
// new declaration win.
func (a *Aspect) Merge(prev compose.Aspect) error {
	if p, ok := prev.(*Aspect); ok {
		maps.Copy(a.guarded, p.guarded)
	}
	return nil
}

// Bind implements compose.Aspect.
func (a *Aspect) Bind(w *compose.Wrapper, specs []compose.MethodSpec) error {
	a.wrapper = w
	for _, s := range specs {
		a.guarded[s.Method] = true
	}
	return nil
}

// Load reads the optional "frozen" argument.
func (a *Aspect) Load(e *compose.Entity, args compose.Args) error {
	st := &state{}
	if v, ok := args.Get("frozen"); ok {
		b, ok := v.(bool)
		if !ok {
			return &compose.UsageError{Type: e.TypeName(), Reason: "frozen argument must be a bool"}
		}
		st.frozen = b
	}
	e.SetState(Kind, st)
	return nil
}

// Guard fails guarded methods of frozen instances.
func (a *Aspect) Guard(_ context.Context, e *compose.Entity, method string) error {
	if !a.guarded[method] {
		return nil
	}
	if st, ok := e.State(Kind).(*state); ok && st.frozen {
		return &compose.StateError{Kind: compose.ErrFrozen, Method: method, Target: e.TypeName()}
	}
	return nil
}

// ViewState implements compose.Aspect; views are frozen.
func (a *Aspect) ViewState(*compose.Entity) any { return &state{frozen: true} }

// CopyState implements compose.Aspect.
func (a *Aspect) CopyState(st any) any {
	s := *st.(*state)
	return &s
}

// LetsFreeze reports whether Freeze is permitted.
func (a *Aspect) LetsFreeze() bool { return a.letFreeze }

// LetsMelt reports whether Melt is permitted.
func (a *Aspect) LetsMelt() bool { return a.letMelt }

// Guarded reports whether method is guarded.
func (a *Aspect) Guarded(method string) bool { return a.guarded[method] }
