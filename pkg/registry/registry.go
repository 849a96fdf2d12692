// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry keeps the set of struct types ("classes") that frozen
// knows about.
//
// A class is registered explicitly and receives a stable integer Handle.
// Inheritance is derived from struct embedding: the parents of a class are
// the registered types reachable through its embedded fields. Unregistered
// embedded structs are traversed, so a registered type two levels down still
// counts as a parent.
//
// Registrations live until Retire is called. Retirement is the explicit end
// of a class's lifetime; listeners installed with OnRetire use it to drop any
// derived data (the call-frame classifier drops its cache entries).
//
// # Thread Safety
//
// Registry and Class are safe for concurrent use.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/AleutianAI/frozen/pkg/logging"
)

// Handle identifies a registered class. Handles are never reused within a
// Registry.
type Handle uint32

// Sentinel errors.
var (
	// ErrNotStruct is returned when registering something that is not a
	// named struct type.
	ErrNotStruct = errors.New("registry: not a named struct type")

	// ErrNotFunc is returned by RegisterStatic for non-function values.
	ErrNotFunc = errors.New("registry: not a function")

	// ErrRetired is returned when operating on a retired class.
	ErrRetired = errors.New("registry: class retired")
)

// =============================================================================
// Registry
// =============================================================================

// Registry maps Go struct types to classes.
type Registry struct {
	mu       sync.RWMutex
	next     Handle
	byHandle map[Handle]*Class
	byType   map[reflect.Type]*Class
	byName   map[string]*Class

	listenersMu sync.RWMutex
	onRegister  []func(*Class)
	onRetire    []func(*Class)

	logger *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger. Default: logging.Discard().
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byHandle: make(map[Handle]*Class),
		byType:   make(map[reflect.Type]*Class),
		byName:   make(map[string]*Class),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// Register registers the struct type of T. See (*Registry).Register.
func Register[T any](r *Registry) (*Class, error) {
	return r.Register(reflect.TypeFor[T]())
}

// MustRegister is like Register but panics on error. Intended for package
// level variable initialization.
func MustRegister[T any](r *Registry) *Class {
	c, err := Register[T](r)
	if err != nil {
		panic(err)
	}
	return c
}

// Register registers the type of v. v may be a struct value, a pointer to a
// struct or a reflect.Type of either. Registering a type twice returns the
// same class.
//
// Parents are taken from embedded fields at registration time, so parents
// must be registered before their children.
func (r *Registry) Register(v any) (*Class, error) {
	t, err := structType(v)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if c, ok := r.byType[t]; ok {
		r.mu.Unlock()
		return c, nil
	}

	r.next++
	c := &Class{
		handle:      r.next,
		rtype:       t,
		pkg:         t.PkgPath(),
		typeName:    baseName(t.Name()),
		statics:     make(map[string]string),
		attachments: make(map[any]any),
		registry:    r,
	}
	c.parents = r.parentsLocked(t)
	for _, p := range c.parents {
		p.subclasses = append(p.subclasses, c)
	}
	r.byHandle[c.handle] = c
	r.byType[t] = c
	if _, taken := r.byName[c.Name()]; !taken {
		r.byName[c.Name()] = c
	}
	r.mu.Unlock()

	r.logger.Debug("class registered", "class", c.Name(), "handle", c.handle, "parents", len(c.parents))

	r.notify(&r.onRegister, c)
	return c, nil
}

// parentsLocked collects registered types reachable through embedded fields,
// traversing unregistered embedded structs. Caller holds r.mu.
func (r *Registry) parentsLocked(t reflect.Type) []*Class {
	var parents []*Class
	seen := map[reflect.Type]bool{t: true}

	var walk func(reflect.Type)
	walk = func(st reflect.Type) {
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if !f.Anonymous {
				continue
			}
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() != reflect.Struct || seen[ft] {
				continue
			}
			seen[ft] = true
			if p, ok := r.byType[ft]; ok {
				parents = append(parents, p)
				continue
			}
			walk(ft)
		}
	}
	walk(t)
	return parents
}

// RegisterStatic associates the package-level function fn with class c. The
// call-frame classifier resolves frames of fn to c when c is among the
// location hints.
func (r *Registry) RegisterStatic(c *Class, fn any) error {
	if c.Retired() {
		return fmt.Errorf("register static on %s: %w", c.Name(), ErrRetired)
	}
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("register static on %s: %w", c.Name(), ErrNotFunc)
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return fmt.Errorf("register static on %s: %w", c.Name(), ErrNotFunc)
	}
	sym := f.Name()

	r.mu.Lock()
	c.statics[ShortName(sym)] = sym
	r.mu.Unlock()

	r.notify(&r.onRegister, c)
	return nil
}

// Retire ends the registration of c. Lookups stop returning it and OnRetire
// listeners run. Retiring twice is a no-op.
func (r *Registry) Retire(c *Class) {
	if c == nil || !c.retired.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	delete(r.byHandle, c.handle)
	delete(r.byType, c.rtype)
	if r.byName[c.Name()] == c {
		delete(r.byName, c.Name())
	}
	for _, p := range c.parents {
		p.subclasses = removeClass(p.subclasses, c)
	}
	r.mu.Unlock()

	r.logger.Debug("class retired", "class", c.Name(), "handle", c.handle)

	r.notify(&r.onRetire, c)
}

// OnRegister installs a listener called after every new registration and
// every RegisterStatic.
func (r *Registry) OnRegister(fn func(*Class)) {
	r.listenersMu.Lock()
	r.onRegister = append(r.onRegister, fn)
	r.listenersMu.Unlock()
}

// OnRetire installs a listener called after every retirement.
func (r *Registry) OnRetire(fn func(*Class)) {
	r.listenersMu.Lock()
	r.onRetire = append(r.onRetire, fn)
	r.listenersMu.Unlock()
}

func (r *Registry) notify(list *[]func(*Class), c *Class) {
	r.listenersMu.RLock()
	listeners := append([]func(*Class){}, (*list)...)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// Lookup returns the class registered for t (or the struct t points to).
func (r *Registry) Lookup(t reflect.Type) (*Class, bool) {
	if t == nil {
		return nil, false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[t]
	return c, ok
}

// LookupOf returns the class of v's dynamic type.
func (r *Registry) LookupOf(v any) (*Class, bool) {
	return r.Lookup(reflect.TypeOf(v))
}

// LookupName returns the class declared in package pkg with type name
// typeName. Type arguments of generic types are ignored.
func (r *Registry) LookupName(pkg, typeName string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[pkg+"."+baseName(typeName)]
	return c, ok
}

// ByHandle returns the live class with handle h.
func (r *Registry) ByHandle(h Handle) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byHandle[h]
	return c, ok
}

// Classes returns all live classes ordered by handle.
func (r *Registry) Classes() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Class, 0, len(r.byHandle))
	for h := Handle(1); h <= r.next; h++ {
		if c, ok := r.byHandle[h]; ok {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// Helpers
// =============================================================================

func structType(v any) (reflect.Type, error) {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	if t == nil {
		return nil, ErrNotStruct
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return nil, fmt.Errorf("%s: %w", t, ErrNotStruct)
	}
	return t, nil
}

// baseName strips type arguments: "Box[int]" becomes "Box".
func baseName(name string) string {
	if i := strings.IndexByte(name, '['); i >= 0 {
		return name[:i]
	}
	return name
}

// ShortName returns the unqualified function name of a runtime symbol:
// "example.com/bank.NewAccount" becomes "NewAccount". Type arguments are
// stripped.
func ShortName(sym string) string {
	sym = strings.ReplaceAll(sym, "[...]", "")
	if i := strings.LastIndexByte(sym, '/'); i >= 0 {
		sym = sym[i+1:]
	}
	if i := strings.LastIndexByte(sym, '.'); i >= 0 {
		sym = sym[i+1:]
	}
	return sym
}

func removeClass(list []*Class, c *Class) []*Class {
	out := list[:0]
	for _, x := range list {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}
