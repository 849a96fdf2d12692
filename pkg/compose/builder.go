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
	"reflect"
	"sync"

	"github.com/AleutianAI/frozen/pkg/logging"
	"github.com/AleutianAI/frozen/pkg/registry"
)

// Option configures a Builder.
type Option func(*builderOptions)

type builderOptions struct {
	logger *logging.Logger
}

// WithLogger sets the logger used by the built wrapper. Default:
// logging.Discard().
func WithLogger(l *logging.Logger) Option {
	return func(o *builderOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// boundAspects records aspect values that already belong to a wrapper.
var boundAspects sync.Map // Aspect -> *Wrapper

// Builder collects one composition of T. It is single use.
type Builder[T any, PT interface {
	*T
	Instance
}] struct {
	mu     sync.Mutex
	reg    *registry.Registry
	logger *logging.Logger
	sig    Signature
	ctor   func(PT, Args) error
	specs  []MethodSpec
	built  bool
}

// Define starts composing T in reg.
func Define[T any, PT interface {
	*T
	Instance
}](reg *registry.Registry, opts ...Option) *Builder[T, PT] {
	o := builderOptions{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Builder[T, PT]{reg: reg, logger: o.logger}
}

// Constructor sets the user constructor and its signature. Without one,
// instances are initialized by their load steps only.
func (b *Builder[T, PT]) Constructor(sig Signature, fn func(PT, Args) error) *Builder[T, PT] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sig = sig
	b.ctor = fn
	return b
}

// Methods adds method specs.
func (b *Builder[T, PT]) Methods(specs ...MethodSpec) *Builder[T, PT] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.specs = append(b.specs, specs...)
	return b
}

// Build composes T with aspects, listed outermost first.
//
// Returns UsageError when T is not a struct, when the builder was already
// built, when an aspect is nil, duplicated by kind or bound elsewhere, or
// when a method spec names a method T does not export or a kind not among
// aspects. Returns ConfigurationError when an aspect fails validation.
func (b *Builder[T, PT]) Build(aspects ...Aspect) (*Type[T, PT], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rtype := reflect.TypeFor[T]()
	if b.built {
		return nil, usageErrorf(rtype.String(), "builder already used")
	}
	b.built = true

	var ctor func(Instance, Args) error
	if b.ctor != nil {
		fn := b.ctor
		ctor = func(inst Instance, args Args) error { return fn(inst.(PT), args) }
	}

	w, err := build(b.reg, rtype, b.sig, ctor, b.specs, aspects, b.logger)
	if err != nil {
		return nil, err
	}
	return &Type[T, PT]{w: w, reg: b.reg, sig: b.sig, ctor: b.ctor, logger: b.logger}, nil
}

// build is the untyped composition.
func build(
	reg *registry.Registry,
	rtype reflect.Type,
	sig Signature,
	ctor func(Instance, Args) error,
	specs []MethodSpec,
	aspects []Aspect,
	logger *logging.Logger,
) (*Wrapper, error) {
	name := rtype.String()
	if rtype.Kind() != reflect.Struct {
		return nil, usageErrorf(name, "composed types must be structs")
	}
	if len(aspects) == 0 {
		return nil, usageErrorf(name, "no aspects given")
	}

	kinds := make(map[string]Aspect, len(aspects))
	for _, a := range aspects {
		if a == nil {
			return nil, usageErrorf(name, "nil aspect")
		}
		if !reflect.TypeOf(a).Comparable() {
			return nil, usageErrorf(name, "aspect %T must be a pointer", a)
		}
		if _, dup := kinds[a.Kind()]; dup {
			return nil, usageErrorf(name, "aspect %s given twice", a.Kind())
		}
		if _, taken := boundAspects.Load(a); taken {
			return nil, usageErrorf(name, "aspect %s already belongs to another type", a.Kind())
		}
		kinds[a.Kind()] = a
	}

	ptr := reflect.PointerTo(rtype)
	byKind := make(map[string][]MethodSpec)
	for _, s := range specs {
		if _, ok := ptr.MethodByName(s.Method); !ok {
			return nil, usageErrorf(name, "%s is not an exported method", s.Method)
		}
		if _, ok := kinds[s.Kind]; !ok {
			return nil, usageErrorf(name, "method %s is marked %s but the type is not composed with %s",
				s.Method, s.Kind, s.Kind)
		}
		byKind[s.Kind] = append(byKind[s.Kind], s)
	}

	for _, a := range aspects {
		if err := a.Validate(); err != nil {
			var ce *ConfigurationError
			if errors.As(err, &ce) {
				if ce.Type == "" {
					ce.Type = name
				}
				return nil, ce
			}
			return nil, &ConfigurationError{Aspect: a.Kind(), Type: name, Reason: err.Error()}
		}
	}

	cls, err := reg.Register(rtype)
	if err != nil {
		return nil, &UsageError{Type: name, Reason: "cannot register type", Cause: err}
	}

	// Nearest composed ancestor, the class itself included.
	var base *Wrapper
	for _, anc := range cls.Ancestors() {
		if w, ok := WrapperOf(anc); ok {
			base = w
			break
		}
	}

	for _, a := range aspects {
		if prev := nearestLayer(cls, a.Kind()); prev != nil {
			if err := a.Merge(prev); err != nil {
				return nil, err
			}
		}
	}

	w := &Wrapper{class: cls, rtype: rtype, sig: sig, ctor: ctor, base: base, logger: logger}
	w.layers = append(w.layers, aspects...)
	if base != nil {
		for _, inherited := range base.layers {
			if _, redeclared := kinds[inherited.Kind()]; !redeclared {
				w.layers = append(w.layers, inherited)
			}
		}
	}

	for _, a := range aspects {
		if err := a.Bind(w, byKind[a.Kind()]); err != nil {
			return nil, err
		}
		boundAspects.Store(a, w)
	}
	cls.Attach(wrapperKey{}, w)

	layerKinds := make([]string, len(w.layers))
	for i, a := range w.layers {
		layerKinds[i] = a.Kind()
	}
	logger.Info("type composed", "type", cls.Name(), "layers", layerKinds, "inherits", base != nil)
	return w, nil
}

// nearestLayer returns the same-kind aspect of the closest composed ancestor.
func nearestLayer(cls *registry.Class, kind string) Aspect {
	for _, anc := range cls.Ancestors() {
		if w, ok := WrapperOf(anc); ok {
			if a, ok := w.Layer(kind); ok {
				return a
			}
		}
	}
	return nil
}
