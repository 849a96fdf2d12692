// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package view

import (
	"reflect"
	"slices"
	"sync"

	"github.com/AleutianAI/frozen/pkg/compose"
)

var (
	errorType  = reflect.TypeFor[error]()
	entityType = reflect.TypeFor[compose.Entity]()
)

// entityMethods are promoted from the embedded entity and never forwarded.
var entityMethods = func() map[string]bool {
	t := reflect.PointerTo(entityType)
	out := make(map[string]bool, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		out[t.Method(i).Name] = true
	}
	return out
}()

// proxyType describes what a view of one concrete pointer type exposes.
type proxyType struct {
	rtype       reflect.Type
	fields      map[string][]int
	fieldNames  []string
	methods     map[string]methodInfo
	methodNames []string
}

// methodInfo is an exported method with its receiver-less signature.
type methodInfo struct {
	Index int
	Type  reflect.Type
}

// proxyTypes caches descriptors by pointer type.
var proxyTypes sync.Map // reflect.Type -> *proxyType

// typeOf returns the cached descriptor of t, a pointer to a struct.
func typeOf(t reflect.Type) *proxyType {
	if cached, ok := proxyTypes.Load(t); ok {
		return cached.(*proxyType)
	}
	pt := &proxyType{
		rtype:   t,
		fields:  make(map[string][]int),
		methods: make(map[string]methodInfo),
	}
	for _, f := range reflect.VisibleFields(t.Elem()) {
		if f.Type == entityType || !exportedPath(t.Elem(), f.Index) {
			continue
		}
		pt.fields[f.Name] = f.Index
		pt.fieldNames = append(pt.fieldNames, f.Name)
	}
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if entityMethods[m.Name] {
			continue
		}
		pt.methods[m.Name] = methodInfo{Index: i, Type: dropReceiver(m.Type)}
		pt.methodNames = append(pt.methodNames, m.Name)
	}
	slices.Sort(pt.methodNames)

	actual, _ := proxyTypes.LoadOrStore(t, pt)
	return actual.(*proxyType)
}

// exportedPath reports whether every field along index is exported.
func exportedPath(t reflect.Type, index []int) bool {
	for _, i := range index {
		f := t.Field(i)
		if !f.IsExported() {
			return false
		}
		t = f.Type
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
	}
	return true
}

func dropReceiver(ft reflect.Type) reflect.Type {
	in := make([]reflect.Type, 0, ft.NumIn()-1)
	for i := 1; i < ft.NumIn(); i++ {
		in = append(in, ft.In(i))
	}
	out := make([]reflect.Type, ft.NumOut())
	for i := range out {
		out[i] = ft.Out(i)
	}
	return reflect.FuncOf(in, out, ft.IsVariadic())
}
