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

import "context"

// Aspect is one orthogonal behavior layered onto a type.
//
// The lifecycle of an aspect value is:
//
//  1. Validate, before anything else; failures become ConfigurationError.
//  2. Merge, once, with the same-kind aspect of the nearest composed
//     ancestor (if any). Permission tables are unioned.
//  3. Bind, once, with the wrapper being built and the method specs of the
//     aspect's kind.
//  4. Load, for every constructed instance, with the arguments selected by
//     Signature.
//  5. Guard, for every guarded method call.
//
// An aspect value belongs to one wrapper; a composed subtype that does not
// redeclare the kind reuses the ancestor's aspect as an inner layer.
type Aspect interface {
	// Kind names the aspect ("freezable"). Kinds are unique per wrapper.
	Kind() string

	// Signature declares the load parameters.
	Signature() Signature

	// Validate rejects declarations without an enforceable policy.
	Validate() error

	// Merge folds prev, an already bound aspect of the same kind, into the
	// receiver.
	Merge(prev Aspect) error

	// Bind attaches the aspect to w and records its method specs.
	Bind(w *Wrapper, specs []MethodSpec) error

	// Load initializes the per-instance state of e.
	Load(e *Entity, args Args) error

	// Guard decides whether method may run on e. e may be a view entity.
	Guard(ctx context.Context, e *Entity, method string) error

	// ViewState derives the state a view of src starts with.
	ViewState(src *Entity) any

	// CopyState returns an independent copy of a state value.
	CopyState(st any) any
}

// MethodSpec marks a method of the composed type as guarded by the aspect
// of Kind. Data carries aspect-specific details (lock keys, friend groups).
type MethodSpec struct {
	Kind   string
	Method string
	Data   any
}
