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
	"reflect"

	"github.com/google/uuid"
)

// Clone copies src. The copy gets a new identity and a copy of every aspect
// state, and shares src's wrapper.
//
// A shallow clone copies the struct value only; instances it holds by value
// are part of that value and get their own identity and state, while
// referenced ones stay shared. A deep clone also copies
// everything reachable through exported fields; nested constructed
// instances are cloned the same way, each once, so shared references stay
// shared within the copy. Unexported fields are copied shallowly.
//
// Cloning a view returns a StateError; cloning an unconstructed instance
// returns a UsageError.
func Clone[T any, PT interface {
	*T
	Instance
}](src PT, deep bool) (PT, error) {
	out, err := CloneInstance(src, deep)
	if err != nil {
		return nil, err
	}
	return out.(PT), nil
}

// CloneInstance is the untyped form of Clone. The result has the dynamic
// type of src.
func CloneInstance(src Instance, deep bool) (Instance, error) {
	e := src.Core()
	if e.IsView() {
		return nil, &StateError{Kind: ErrViewImmutable, Method: "copy", Target: e.TypeName()}
	}
	if !e.Constructed() {
		return nil, usageErrorf(reflect.TypeOf(src).String(), "cannot copy an unconstructed instance")
	}
	c := &cloner{
		deep:      deep,
		instances: make(map[*Entity]Instance),
		pointers:  make(map[ptrKey]reflect.Value),
	}
	return c.instance(src), nil
}

type cloner struct {
	deep      bool
	instances map[*Entity]Instance
	pointers  map[ptrKey]reflect.Value
}

func (c *cloner) instance(src Instance) Instance {
	se := src.Core()
	if done, ok := c.instances[se]; ok {
		return done
	}

	sv := reflect.ValueOf(src).Elem()
	dv := reflect.New(sv.Type())
	dv.Elem().Set(sv)
	dst := dv.Interface().(Instance)
	c.instances[se] = dst
	renew(dst.Core(), se)

	if c.deep {
		c.fields(dv.Elem())
	} else {
		c.inline(dv.Elem())
	}
	return dst
}

// renew gives de, a struct copy of se, a new identity and a copy of every
// aspect state. de and se may be the same entity.
func renew(de, se *Entity) {
	states := make(map[string]any, len(se.states))
	for _, a := range se.wrapper.layers {
		if st, ok := se.states[a.Kind()]; ok {
			states[a.Kind()] = a.CopyState(st)
		}
	}
	de.id = uuid.New()
	de.source = nil
	de.states = states
}

// entityOf returns the entity of the addressable struct v when *v is an
// Instance, nil otherwise.
func entityOf(v reflect.Value) *Entity {
	if !v.CanAddr() || v.Type() == entityType {
		return nil
	}
	p := v.Addr()
	if !p.Type().Implements(instanceType) || !p.CanInterface() {
		return nil
	}
	return p.Interface().(Instance).Core()
}

// ownInstance reports whether e is a constructed, non-view entity other
// than owner. An embedded ancestor promotes its entity into the embedding
// type, so it shares owner's entity.
func ownInstance(e, owner *Entity) bool {
	return e != nil && e != owner && e.Constructed() && !e.IsView()
}

// fields replaces every exported field of the addressable struct v with a
// deep copy.
func (c *cloner) fields(v reflect.Value) {
	owner := entityOf(v)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Type == entityType {
			continue
		}
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if owner != nil && entityOf(fv) == owner {
			c.fields(fv)
			continue
		}
		fv.Set(c.value(fv))
	}
}

// inline renews the instances a shallow copy holds by value in v. Their
// entities were duplicated with the struct and still share src's state.
func (c *cloner) inline(v reflect.Value) {
	owner := entityOf(v)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Type == entityType || f.Type.Kind() != reflect.Struct {
			continue
		}
		fv := v.Field(i)
		if e := entityOf(fv); ownInstance(e, owner) {
			renew(e, e)
		}
		c.inline(fv)
	}
}

// value returns a deep copy of v.
func (c *cloner) value(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		if v.Type() != reflect.PointerTo(entityType) && v.Type().Implements(instanceType) && v.CanInterface() {
			if inst, ok := v.Interface().(Instance); ok && inst.Core().Constructed() && !inst.Core().IsView() {
				out := reflect.ValueOf(c.instance(inst))
				if out.Type().AssignableTo(v.Type()) {
					return out
				}
				return v
			}
		}
		key := ptrKey{addr: v.Pointer(), typ: v.Type()}
		if done, ok := c.pointers[key]; ok {
			return done
		}
		np := reflect.New(v.Type().Elem())
		c.pointers[key] = np
		np.Elem().Set(c.value(v.Elem()))
		return np

	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(c.value(v.Elem()))
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.value(v.Index(i)))
		}
		return out

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.value(v.Index(i)))
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		it := v.MapRange()
		for it.Next() {
			out.SetMapIndex(it.Key(), c.value(it.Value()))
		}
		return out

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		if e := entityOf(out); ownInstance(e, nil) {
			renew(e, e)
		}
		c.fields(out)
		return out
	}
	return v
}
