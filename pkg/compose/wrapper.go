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
	"context"
	"reflect"

	"github.com/google/uuid"

	"github.com/AleutianAI/frozen/pkg/logging"
	"github.com/AleutianAI/frozen/pkg/registry"
	"github.com/AleutianAI/frozen/pkg/telemetry"
)

// wrapperKey is the attachment key of a class's current wrapper.
type wrapperKey struct{}

// Wrapper is the composition of one user type with its aspect layers.
//
// Layers are ordered outermost first. Load steps and guards run in that
// order; the user constructor runs last. A wrapper is created once per
// composition and attached to the registry class, where composed subtypes
// find it.
type Wrapper struct {
	class  *registry.Class
	rtype  reflect.Type
	sig    Signature
	ctor   func(Instance, Args) error
	layers []Aspect
	base   *Wrapper
	logger *logging.Logger
}

// WrapperOf returns the current wrapper attached to c.
func WrapperOf(c *registry.Class) (*Wrapper, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.Attachment(wrapperKey{})
	if !ok {
		return nil, false
	}
	w, ok := v.(*Wrapper)
	return w, ok
}

// Class returns the registry class of the user type.
func (w *Wrapper) Class() *registry.Class { return w.class }

// Original returns the user struct type.
func (w *Wrapper) Original() reflect.Type { return w.rtype }

// Signature returns the intended constructor signature.
func (w *Wrapper) Signature() Signature { return w.sig }

// Base returns the wrapper this one was layered on, if any.
func (w *Wrapper) Base() *Wrapper { return w.base }

// Layers returns the aspects, outermost first.
func (w *Wrapper) Layers() []Aspect {
	out := make([]Aspect, len(w.layers))
	copy(out, w.layers)
	return out
}

// Layer returns the aspect of kind.
func (w *Wrapper) Layer(kind string) (Aspect, bool) {
	for _, a := range w.layers {
		if a.Kind() == kind {
			return a, true
		}
	}
	return nil, false
}

// Has reports whether the wrapper has an aspect of kind.
func (w *Wrapper) Has(kind string) bool {
	_, ok := w.Layer(kind)
	return ok
}

// Construct initializes inst: each layer loads its state, outermost first,
// then the user constructor runs exactly once with its tailored arguments.
// On error inst is left unconstructed.
func (w *Wrapper) Construct(inst Instance, args Args) error {
	if t := reflect.TypeOf(inst); t != reflect.PointerTo(w.rtype) {
		return usageErrorf(w.class.Name(), "cannot construct %s", t)
	}
	e := inst.Core()
	if e.wrapper != nil {
		return usageErrorf(w.class.Name(), "instance already constructed")
	}

	sigs := make([]Signature, len(w.layers))
	for i, a := range w.layers {
		sigs[i] = a.Signature()
	}
	ctorArgs, layerArgs, err := TailorAll(w.sig, sigs, args)
	if err != nil {
		if ue, ok := err.(*UsageError); ok {
			ue.Type = w.class.Name()
		}
		return err
	}

	e.wrapper = w
	e.id = uuid.New()
	e.states = make(map[string]any, len(w.layers))
	e.source = nil

	for i, a := range w.layers {
		if err := a.Load(e, layerArgs[i]); err != nil {
			*e = Entity{}
			return err
		}
	}
	if w.ctor != nil {
		if err := w.ctor(inst, ctorArgs); err != nil {
			*e = Entity{}
			return err
		}
	}

	w.logger.Debug("instance constructed", "type", w.class.Name(), "id", e.id.String())
	return nil
}

// Guard runs the guards of inst's wrapper for method. See the package
// function Guard.
func (w *Wrapper) Guard(ctx context.Context, inst Instance, method string) error {
	return Guard(ctx, inst, method)
}

// Guard runs every aspect guard of inst's wrapper for method, outermost
// first, and returns the first failure. Guarded methods call it before doing
// any work.
func Guard(ctx context.Context, inst Instance, method string) error {
	e := inst.Core()
	w := e.wrapper
	if w == nil {
		return usageErrorf(reflect.TypeOf(inst).String(), "guarded method %s called on an unconstructed instance", method)
	}
	for _, a := range w.layers {
		if err := a.Guard(ctx, e, method); err != nil {
			label := KindLabel(err)
			telemetry.RecordGuardFailure(ctx, a.Kind(), label)
			w.logger.Debug("guard rejected call",
				"type", w.class.Name(),
				"method", method,
				"aspect", a.Kind(),
				"kind", label,
				"view", e.IsView(),
			)
			return err
		}
	}
	return nil
}

// =============================================================================
// Typed facade
// =============================================================================

// Type is the typed handle of a composed user type T.
type Type[T any, PT interface {
	*T
	Instance
}] struct {
	w      *Wrapper
	reg    *registry.Registry
	sig    Signature
	ctor   func(PT, Args) error
	logger *logging.Logger
}

// Wrapper returns the untyped wrapper.
func (t *Type[T, PT]) Wrapper() *Wrapper { return t.w }

// Class returns the registry class of T.
func (t *Type[T, PT]) Class() *registry.Class { return t.w.class }

// New allocates and constructs a T.
func (t *Type[T, PT]) New(args Args) (PT, error) {
	x := PT(new(T))
	if err := t.w.Construct(x, args); err != nil {
		return nil, err
	}
	return x, nil
}

// MustNew is like New but panics on error.
func (t *Type[T, PT]) MustNew(args Args) PT {
	x, err := t.New(args)
	if err != nil {
		panic(err)
	}
	return x
}

// Construct initializes an existing zero T, for instances embedded by value
// in other structs.
func (t *Type[T, PT]) Construct(x PT, args Args) error {
	return t.w.Construct(x, args)
}

// Guard runs the guards for method on x.
func (t *Type[T, PT]) Guard(ctx context.Context, x PT, method string) error {
	return Guard(ctx, x, method)
}

// Wrap layers more aspects onto T. The new aspects become the outermost
// layers; same-kind aspects are merged with the existing ones. Instances
// constructed before Wrap keep their wrapper.
func (t *Type[T, PT]) Wrap(aspects ...Aspect) (*Type[T, PT], error) {
	return Define[T, PT](t.reg, WithLogger(t.logger)).Constructor(t.sig, t.ctor).Build(aspects...)
}
