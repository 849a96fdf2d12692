// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/AleutianAI/frozen/pkg/alienatable"
	"github.com/AleutianAI/frozen/pkg/compose"
	"github.com/AleutianAI/frozen/pkg/freezable"
	"github.com/AleutianAI/frozen/pkg/lockable"
	"github.com/AleutianAI/frozen/pkg/registry"
)

// Policy is a File resolved against a registry.
type Policy struct {
	types map[string]resolved
	order []string
}

type resolved struct {
	spec    TypeSpec
	lock    map[string][]*registry.Class
	unlock  map[string][]*registry.Class
	friends map[string][]*registry.Class
}

// Composition is the aspects and method specs for one type, ready for
// compose.Builder. Aspects are listed outermost first.
type Composition struct {
	Aspects []compose.Aspect
	Methods []compose.MethodSpec
}

// Resolve looks up every class the policy names in reg.
//
// Returns an error wrapping ErrUnknownType for the first name reg does not
// know. Composed types themselves need not be registered yet.
func (f *File) Resolve(reg *registry.Registry) (*Policy, error) {
	p := &Policy{types: make(map[string]resolved, len(f.Types))}
	for _, ts := range f.Types {
		r := resolved{spec: ts}
		var err error
		if ts.Lockable != nil {
			if r.lock, err = resolveAll(reg, ts.Lockable.Lock); err != nil {
				return nil, fmt.Errorf("%s lock: %w", ts.Name, err)
			}
			if r.unlock, err = resolveAll(reg, ts.Lockable.Unlock); err != nil {
				return nil, fmt.Errorf("%s unlock: %w", ts.Name, err)
			}
		}
		if ts.Alienatable != nil {
			if r.friends, err = resolveAll(reg, ts.Alienatable.Friends); err != nil {
				return nil, fmt.Errorf("%s friends: %w", ts.Name, err)
			}
		}
		p.types[ts.Name] = r
		p.order = append(p.order, ts.Name)
	}
	return p, nil
}

func resolveAll(reg *registry.Registry, names map[string][]string) (map[string][]*registry.Class, error) {
	out := make(map[string][]*registry.Class, len(names))
	for key, list := range names {
		classes := make([]*registry.Class, 0, len(list))
		for _, name := range list {
			c, err := lookup(reg, name)
			if err != nil {
				return nil, err
			}
			classes = append(classes, c)
		}
		out[key] = classes
	}
	return out, nil
}

func lookup(reg *registry.Registry, name string) (*registry.Class, error) {
	pkg, typeName, ok := SplitName(name)
	if !ok {
		return nil, fmt.Errorf("%w: malformed name %q", ErrUnknownType, name)
	}
	c, ok := reg.LookupName(pkg, typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return c, nil
}

// Types returns the configured type names in file order.
func (p *Policy) Types() []string { return slices.Clone(p.order) }

// Aspects builds fresh aspects for the named type. Each call returns new
// aspect values, since an aspect binds to one composition only.
func (p *Policy) Aspects(name string) (Composition, error) {
	r, ok := p.types[name]
	if !ok {
		return Composition{}, fmt.Errorf("%w: %s is not configured", ErrUnknownType, name)
	}
	var c Composition

	if spec := r.spec.Alienatable; spec != nil {
		opts := make([]alienatable.Option, 0, len(r.friends))
		for _, group := range slices.Sorted(maps.Keys(r.friends)) {
			opts = append(opts, alienatable.Group(group, r.friends[group]...))
		}
		c.Aspects = append(c.Aspects, alienatable.New(opts...))
		for _, m := range slices.Sorted(maps.Keys(spec.Methods)) {
			c.Methods = append(c.Methods, alienatable.Method(m, spec.Methods[m]...))
		}
	}

	if spec := r.spec.Freezable; spec != nil {
		var opts []freezable.Option
		if spec.LetFreeze != nil {
			opts = append(opts, freezable.LetFreeze(*spec.LetFreeze))
		}
		if spec.LetMelt != nil {
			opts = append(opts, freezable.LetMelt(*spec.LetMelt))
		}
		c.Aspects = append(c.Aspects, freezable.New(opts...))
		c.Methods = append(c.Methods, freezable.Method(spec.Methods...)...)
	}

	if spec := r.spec.Lockable; spec != nil {
		opts := make([]lockable.Option, 0, len(r.lock)+len(r.unlock))
		for _, key := range slices.Sorted(maps.Keys(r.lock)) {
			opts = append(opts, lockable.LockKey(key, r.lock[key]...))
		}
		for _, key := range slices.Sorted(maps.Keys(r.unlock)) {
			opts = append(opts, lockable.UnlockKey(key, r.unlock[key]...))
		}
		c.Aspects = append(c.Aspects, lockable.New(opts...))
		for _, m := range slices.Sorted(maps.Keys(spec.Methods)) {
			c.Methods = append(c.Methods, lockable.Method(m, spec.Methods[m]...))
		}
	}
	return c, nil
}

// Build composes T with the policy configured under T's qualified name. The
// builder may already carry a constructor and further method specs.
func Build[T any, PT interface {
	*T
	compose.Instance
}](p *Policy, b *compose.Builder[T, PT]) (*compose.Type[T, PT], error) {
	c, err := p.Aspects(qualifiedName(reflect.TypeFor[T]()))
	if err != nil {
		return nil, err
	}
	return b.Methods(c.Methods...).Build(c.Aspects...)
}
