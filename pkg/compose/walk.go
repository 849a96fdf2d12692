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
	"iter"
	"reflect"
)

var (
	instanceType = reflect.TypeFor[Instance]()
	entityType   = reflect.TypeFor[Entity]()
)

// Descendants yields the constructed instances reachable from root through
// exported struct fields, pointers, interfaces, slices, arrays and map
// values, breadth first, each once. Views are not yielded.
//
// descend decides whether the fields of a yielded instance are searched; a
// nil descend searches everything. The fields of root are always searched.
func Descendants(root Instance, descend func(Instance) bool) iter.Seq[Instance] {
	return func(yield func(Instance) bool) {
		w := &walker{
			seen:     map[*Entity]bool{root.Core(): true},
			seenPtrs: make(map[ptrKey]bool),
		}
		w.scanInstance(root)

		for len(w.queue) > 0 {
			next := w.queue[0]
			w.queue = w.queue[1:]
			if !yield(next) {
				return
			}
			if descend == nil || descend(next) {
				w.scanInstance(next)
			}
		}
	}
}

type ptrKey struct {
	addr uintptr
	typ  reflect.Type
}

type walker struct {
	owner    *Entity
	seen     map[*Entity]bool
	seenPtrs map[ptrKey]bool
	queue    []Instance
}

func (w *walker) scanInstance(inst Instance) {
	w.owner = inst.Core()
	w.scan(reflect.ValueOf(inst).Elem())
}

// asInstance reports whether v, a pointer, refers to a constructed,
// non-view instance other than the one being scanned.
func (w *walker) asInstance(v reflect.Value) (Instance, bool) {
	if v.Type() == reflect.PointerTo(entityType) || !v.Type().Implements(instanceType) || !v.CanInterface() {
		return nil, false
	}
	inst, ok := v.Interface().(Instance)
	if !ok {
		return nil, false
	}
	e := inst.Core()
	if e == w.owner || !e.Constructed() || e.IsView() {
		return nil, false
	}
	return inst, true
}

func (w *walker) enqueue(inst Instance) {
	e := inst.Core()
	if w.seen[e] {
		return
	}
	w.seen[e] = true
	w.queue = append(w.queue, inst)
}

func (w *walker) scan(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		if inst, ok := w.asInstance(v); ok {
			w.enqueue(inst)
			return
		}
		key := ptrKey{addr: v.Pointer(), typ: v.Type()}
		if w.seenPtrs[key] {
			return
		}
		w.seenPtrs[key] = true
		w.scan(v.Elem())

	case reflect.Interface:
		if !v.IsNil() {
			w.scan(v.Elem())
		}

	case reflect.Struct:
		if v.Type() == entityType {
			return
		}
		if v.CanAddr() {
			if inst, ok := w.asInstance(v.Addr()); ok {
				w.enqueue(inst)
				return
			}
		}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				w.scan(v.Field(i))
			}
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			w.scan(v.Index(i))
		}

	case reflect.Map:
		it := v.MapRange()
		for it.Next() {
			w.scan(it.Value())
		}
	}
}
