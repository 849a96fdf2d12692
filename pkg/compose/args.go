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
	"maps"
	"slices"
)

// Args is one combined argument list: positional values plus keywords.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Positional builds Args from positional values.
func Positional(values ...any) Args {
	return Args{Positional: values}
}

// Kw builds Args from alternating keyword names and values. A trailing name
// without a value is ignored; non-string names panic.
func Kw(pairs ...any) Args {
	return Args{}.With(pairs...)
}

// With returns a copy of a with the keyword pairs added.
func (a Args) With(pairs ...any) Args {
	out := Args{Positional: a.Positional, Keyword: maps.Clone(a.Keyword)}
	if out.Keyword == nil {
		out.Keyword = make(map[string]any, len(pairs)/2)
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		out.Keyword[pairs[i].(string)] = pairs[i+1]
	}
	return out
}

// Get returns a keyword value.
func (a Args) Get(name string) (any, bool) {
	v, ok := a.Keyword[name]
	return v, ok
}

// Named resolves a against sig: positional values are bound to the
// parameters after Skip, keywords are added as is.
func (a Args) Named(sig Signature) map[string]any {
	out := make(map[string]any, len(a.Positional)+len(a.Keyword))
	params := sig.bindable()
	for i, v := range a.Positional {
		if i < len(params) {
			out[params[i]] = v
		}
	}
	maps.Copy(out, a.Keyword)
	return out
}

// Signature declares the parameters a callable accepts.
type Signature struct {
	// Params lists parameter names in positional order.
	Params []string

	// VarKeyword accepts any keyword.
	VarKeyword bool

	// Skip is the number of leading Params that are not bound positionally
	// (bookkeeping parameters that may only be passed by keyword).
	Skip int
}

// Params is a convenience constructor for a Signature without extras.
func Params(names ...string) Signature {
	return Signature{Params: names}
}

// Accepts reports whether the signature takes the keyword name.
func (s Signature) Accepts(name string) bool {
	return s.VarKeyword || slices.Contains(s.Params, name)
}

func (s Signature) bindable() []string {
	if s.Skip >= len(s.Params) {
		return nil
	}
	return s.Params[s.Skip:]
}

// Tailor splits args between the intended constructor and one augmenting
// load step. See TailorAll.
func Tailor(intended, augmented Signature, args Args) (Args, Args, error) {
	ctor, layers, err := TailorAll(intended, []Signature{augmented}, args)
	if err != nil {
		return Args{}, Args{}, err
	}
	return ctor, layers[0], nil
}

// TailorAll splits one combined argument list between the intended
// constructor and every augmenting load step.
//
// Positional values bind to the intended parameters after Skip. The
// constructor receives its positional values and the keywords it accepts.
// Each augmented signature receives, as keywords, the named values it
// declares, whether they were passed positionally or by keyword.
//
// A keyword accepted by nobody, a keyword duplicating a positional binding
// and surplus positional values are usage errors.
func TailorAll(intended Signature, augmented []Signature, args Args) (Args, []Args, error) {
	params := intended.bindable()
	if len(args.Positional) > len(params) {
		return Args{}, nil, usageErrorf("", "constructor takes %d positional arguments but %d were given",
			len(params), len(args.Positional))
	}

	bound := make(map[string]any, len(args.Positional)+len(args.Keyword))
	for i, v := range args.Positional {
		bound[params[i]] = v
	}

	ctor := Args{Positional: args.Positional, Keyword: make(map[string]any)}
	for _, name := range slices.Sorted(maps.Keys(args.Keyword)) {
		if _, dup := bound[name]; dup {
			return Args{}, nil, usageErrorf("", "multiple values for argument %q", name)
		}
		accepted := false
		if intended.Accepts(name) {
			ctor.Keyword[name] = args.Keyword[name]
			accepted = true
		}
		for _, sig := range augmented {
			if sig.Accepts(name) {
				accepted = true
			}
		}
		if !accepted {
			return Args{}, nil, usageErrorf("", "unexpected keyword argument %q", name)
		}
		bound[name] = args.Keyword[name]
	}

	layers := make([]Args, len(augmented))
	for i, sig := range augmented {
		kw := make(map[string]any)
		for name, v := range bound {
			if sig.Accepts(name) {
				kw[name] = v
			}
		}
		layers[i] = Args{Keyword: kw}
	}
	return ctor, layers, nil
}
