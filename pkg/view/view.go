// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package view builds read-only projections of composed instances.
//
// A view shares the identity of its source but carries its own aspect state,
// derived once from the source when the view is made: freezable views are
// always frozen and lockable views keep the locks held at view time on top
// of the source's live locks. Guarded methods called through a view are
// checked against that state before they reach the source.
//
// Views never write. Field reads return nested composed instances as views
// of their own.
//
// Example:
//
//	p, err := view.New(account)
//	owner, _ := p.Field("Owner")
//	_, err = p.Call(ctx, "Withdraw", 10) // fails: the view is frozen
package view

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/AleutianAI/frozen/pkg/compose"
)

var (
	// ErrUnknownMember indicates a field or method the source does not export.
	ErrUnknownMember = errors.New("view: unknown member")

	// ErrBadCall indicates arguments that do not fit the method.
	ErrBadCall = errors.New("view: bad call")
)

// Proxy is the untyped view of a composed instance. It is itself an
// Instance whose entity is a view entity, so aspect operations recognize it.
type Proxy struct {
	src    compose.Instance
	entity *compose.Entity
	pt     *proxyType
}

// viewer is implemented by Proxy and View.
type viewer interface {
	proxy() *Proxy
}

// New returns the view of inst. Viewing a view returns it unchanged.
//
// Returns a UsageError when inst has not been constructed.
func New(inst compose.Instance) (*Proxy, error) {
	if v, ok := inst.(viewer); ok {
		return v.proxy(), nil
	}
	e, err := compose.NewViewEntity(inst)
	if err != nil {
		return nil, err
	}
	src := inst
	if e == inst.Core() {
		// inst already carries a view entity (a snapshot); proxy its source.
		src = e.Source()
	}
	return &Proxy{src: src, entity: e, pt: typeOf(reflect.TypeOf(src))}, nil
}

// MustNew is like New but panics on error.
func MustNew(inst compose.Instance) *Proxy {
	p, err := New(inst)
	if err != nil {
		panic(err)
	}
	return p
}

// Core returns the view entity.
func (p *Proxy) Core() *compose.Entity { return p.entity }

func (p *Proxy) proxy() *Proxy { return p }

// Type returns the dynamic type of the source.
func (p *Proxy) Type() reflect.Type { return p.pt.rtype }

// Fields lists the exported fields readable through the view, in
// declaration order.
func (p *Proxy) Fields() []string {
	return slices.Clone(p.pt.fieldNames)
}

// Methods lists the exported methods callable through the view, sorted.
func (p *Proxy) Methods() []string {
	return slices.Clone(p.pt.methodNames)
}

// Field reads an exported field of the source. Constructed instances held by
// the field are returned as their views.
func (p *Proxy) Field(name string) (any, error) {
	idx, ok := p.pt.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: field %s of %s", ErrUnknownMember, name, p.entity.TypeName())
	}
	fv, err := reflect.ValueOf(p.src).Elem().FieldByIndexErr(idx)
	if err != nil {
		// Promoted through a nil embedded pointer.
		return nil, nil
	}
	if nested, ok := nestedView(fv, p.src.Core()); ok {
		return nested, nil
	}
	return fv.Interface(), nil
}

// Call runs the guards of method against the view, then invokes method on
// the source with args. A nil arg passes the zero value of its parameter.
//
// Results are returned in order. When the method's last result is a non-nil
// error it is also returned as err.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	m, ok := p.pt.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: method %s of %s", ErrUnknownMember, method, p.entity.TypeName())
	}
	if err := compose.Guard(ctx, p, method); err != nil {
		return nil, err
	}

	in, err := callArgs(m.Type, args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", p.entity.TypeName(), method, err)
	}
	out := reflect.ValueOf(p.src).Method(m.Index).Call(in)

	results := make([]any, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	if n := len(out); n > 0 && m.Type.Out(n-1) == errorType && !out[n-1].IsNil() {
		return results, out[n-1].Interface().(error)
	}
	return results, nil
}

// String forwards to the source's String method when it has one.
func (p *Proxy) String() string {
	if s, ok := p.src.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("view of %s", p.entity.TypeName())
}

// nestedView returns the view of a composed instance held by fv, other than
// the instance owning the field.
func nestedView(fv reflect.Value, owner *compose.Entity) (*Proxy, bool) {
	switch fv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if fv.IsNil() {
			return nil, false
		}
	case reflect.Struct:
		if !fv.CanAddr() {
			return nil, false
		}
		fv = fv.Addr()
	default:
		return nil, false
	}
	inst, ok := fv.Interface().(compose.Instance)
	if !ok || inst.Core() == owner || !inst.Core().Constructed() {
		return nil, false
	}
	p, err := New(inst)
	if err != nil {
		return nil, false
	}
	return p, true
}

// callArgs converts args for a method value of type ft, which excludes the
// receiver.
func callArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("%w: want at least %d arguments, got %d", ErrBadCall, n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", ErrBadCall, n, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= n-1 {
			pt = ft.In(n - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		if a == nil {
			in[i] = reflect.Zero(pt)
			continue
		}
		v := reflect.ValueOf(a)
		switch {
		case v.Type().AssignableTo(pt):
		case v.Type().ConvertibleTo(pt) && v.Kind() != reflect.String && pt.Kind() != reflect.String:
			v = v.Convert(pt)
		default:
			return nil, fmt.Errorf("%w: argument %d is %s, want %s", ErrBadCall, i, v.Type(), pt)
		}
		in[i] = v
	}
	return in, nil
}
