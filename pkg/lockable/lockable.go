// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lockable gives instances of a composed type a set of lock keys.
//
// A guarded method fails while any of its keys is locked. Locking and
// unlocking a key is restricted to the classes named for it; the calling
// class is found by walking the stack, or taken from the context with
// capability.WithCaller. The composed type itself may always use its keys.
//
// Example:
//
//	typ, err := compose.Define[Account](reg).
//		Methods(lockable.Method("Withdraw", "audit")).
//		Build(lockable.New(lockable.LockKey("audit", auditorClass)))
//
//	// inside a method of Auditor:
//	err = lockable.Lock(ctx, acct, "audit")
package lockable

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/AleutianAI/frozen/pkg/capability"
	"github.com/AleutianAI/frozen/pkg/compose"
	"github.com/AleutianAI/frozen/pkg/registry"
)

// Kind is the aspect kind.
const Kind = "lockable"

// Option configures the aspect.
type Option func(*Aspect)

// LockKey declares key and the classes allowed to lock with it. A key with
// no classes may be locked by anyone. Repeating a key adds classes.
func LockKey(key string, classes ...*registry.Class) Option {
	return func(a *Aspect) { addKey(a.lockPerms, key, classes) }
}

// UnlockKey declares the classes allowed to unlock key. Keys without an
// UnlockKey are unlocked under their lock permissions.
func UnlockKey(key string, classes ...*registry.Class) Option {
	return func(a *Aspect) { addKey(a.unlockPerms, key, classes) }
}

// addKey records classes for key; a nil set marks the key unrestricted.
func addKey(perms map[string]*capability.Set, key string, classes []*registry.Class) {
	if len(classes) == 0 {
		if _, ok := perms[key]; !ok {
			perms[key] = nil
		}
		return
	}
	if perms[key] == nil {
		perms[key] = capability.NewSet()
	}
	perms[key].Add(capability.DefaultGroup, classes...)
}

// Method marks method as guarded by keys. The keys join the type's keys,
// unrestricted unless declared otherwise.
func Method(method string, keys ...string) compose.MethodSpec {
	return compose.MethodSpec{Kind: Kind, Method: method, Data: keys}
}

// Aspect is the lockable aspect of one composed type.
type Aspect struct {
	keys        map[string]bool
	lockPerms   map[string]*capability.Set
	unlockPerms map[string]*capability.Set
	methods     map[string][]string
	wrapper     *compose.Wrapper
}

type state struct {
	locks map[string]bool

	// live is the source entity of a view, whose locks add to the snapshot.
	live *compose.Entity
}

// New returns a lockable aspect. At least one LockKey is required.
func New(opts ...Option) *Aspect {
	a := &Aspect{
		keys:        make(map[string]bool),
		lockPerms:   make(map[string]*capability.Set),
		unlockPerms: make(map[string]*capability.Set),
		methods:     make(map[string][]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Kind implements compose.Aspect.
func (a *Aspect) Kind() string { return Kind }

// Signature implements compose.Aspect.
func (a *Aspect) Signature() compose.Signature { return compose.Params("locks") }

// Validate requires lock keys.
func (a *Aspect) Validate() error {
	if len(a.lockPerms) == 0 {
		return &compose.ConfigurationError{
			Aspect: Kind,
			Reason: "no lock keys defined; use LockKey to define them",
		}
	}
	return nil
}

// Merge unions the ancestor's keys, permissions and guarded methods into a.
func (a *Aspect) Merge(prev compose.Aspect) error {
	p, ok := prev.(*Aspect)
	if !ok {
		return nil
	}
	mergePerms(a.lockPerms, p.lockPerms)
	mergePerms(a.unlockPerms, p.unlockPerms)
	maps.Copy(a.keys, p.keys)
	for m, keys := range p.methods {
		for _, k := range keys {
			if !slices.Contains(a.methods[m], k) {
				a.methods[m] = append(a.methods[m], k)
			}
		}
	}
	return nil
}

// mergePerms unions src into dst. An unrestricted key stays unrestricted on
// the side that declared it.
func mergePerms(dst, src map[string]*capability.Set) {
	for key, set := range src {
		cur, ok := dst[key]
		switch {
		case !ok:
			dst[key] = cloneSet(set)
		case cur != nil && set != nil:
			cur.Merge(set)
		}
	}
}

func cloneSet(s *capability.Set) *capability.Set {
	if s == nil {
		return nil
	}
	return s.Clone()
}

// Bind finalizes the key set: method keys join it, unlock permissions
// default to lock permissions, and the composed class joins every restricted
// key.
func (a *Aspect) Bind(w *compose.Wrapper, specs []compose.MethodSpec) error {
	a.wrapper = w
	for _, s := range specs {
		keys, _ := s.Data.([]string)
		if len(keys) == 0 {
			return &compose.UsageError{
				Type:   w.Class().Name(),
				Reason: fmt.Sprintf("lockable method %s declares no keys", s.Method),
			}
		}
		for _, k := range keys {
			if !slices.Contains(a.methods[s.Method], k) {
				a.methods[s.Method] = append(a.methods[s.Method], k)
			}
			a.keys[k] = true
		}
	}
	for k := range a.lockPerms {
		a.keys[k] = true
	}
	for k := range a.unlockPerms {
		a.keys[k] = true
	}
	for k := range a.keys {
		if _, ok := a.unlockPerms[k]; !ok {
			if set, ok := a.lockPerms[k]; ok {
				a.unlockPerms[k] = cloneSet(set)
			}
		}
	}
	for _, perms := range []map[string]*capability.Set{a.lockPerms, a.unlockPerms} {
		for _, set := range perms {
			if set != nil {
				set.Add(capability.DefaultGroup, w.Class())
			}
		}
	}
	return nil
}

// Load applies the optional "locks" argument. Load-time locks are not
// authorized.
func (a *Aspect) Load(e *compose.Entity, args compose.Args) error {
	st := &state{locks: make(map[string]bool)}
	e.SetState(Kind, st)

	v, ok := args.Get("locks")
	if !ok || v == nil {
		return nil
	}
	keys, ok := v.([]string)
	if !ok {
		return &compose.UsageError{Type: e.TypeName(), Reason: "locks argument must be a []string"}
	}
	for _, k := range keys {
		if !a.keys[k] {
			return &compose.LookupError{Key: k, Target: e.TypeName()}
		}
		st.locks[k] = true
	}
	return nil
}

// Guard fails a guarded method while one of its keys is locked, naming the
// first such key in sorted order.
func (a *Aspect) Guard(_ context.Context, e *compose.Entity, method string) error {
	keys, ok := a.methods[method]
	if !ok {
		return nil
	}
	st, ok := e.State(Kind).(*state)
	if !ok {
		return nil
	}
	var locked []string
	for _, k := range keys {
		if st.has(k) {
			locked = append(locked, k)
		}
	}
	if len(locked) == 0 {
		return nil
	}
	slices.Sort(locked)
	return &compose.StateError{Kind: compose.ErrLocked, Method: method, Key: locked[0], Target: e.TypeName()}
}

// ViewState snapshots the source's locks.
func (a *Aspect) ViewState(src *compose.Entity) any {
	vs := &state{locks: make(map[string]bool), live: src}
	if st, ok := src.State(Kind).(*state); ok {
		maps.Copy(vs.locks, st.locks)
	}
	return vs
}

// CopyState implements compose.Aspect.
func (a *Aspect) CopyState(st any) any {
	s := st.(*state)
	return &state{locks: maps.Clone(s.locks)}
}

// Keys returns the type's keys, sorted.
func (a *Aspect) Keys() []string {
	return slices.Sorted(maps.Keys(a.keys))
}

// LockSet returns the classes allowed to lock with key; nil means anyone.
func (a *Aspect) LockSet(key string) *capability.Set { return a.lockPerms[key] }

// UnlockSet returns the classes allowed to unlock key; nil means anyone.
func (a *Aspect) UnlockSet(key string) *capability.Set { return a.unlockPerms[key] }

// MethodKeys returns the keys guarding method.
func (a *Aspect) MethodKeys(method string) []string {
	return slices.Clone(a.methods[method])
}

func (s *state) has(key string) bool {
	if s.locks[key] {
		return true
	}
	if s.live != nil {
		if st, ok := s.live.State(Kind).(*state); ok {
			return st.locks[key]
		}
	}
	return false
}

func (s *state) active() []string {
	out := slices.Collect(maps.Keys(s.locks))
	if s.live != nil {
		if st, ok := s.live.State(Kind).(*state); ok {
			for k := range st.locks {
				if !s.locks[k] {
					out = append(out, k)
				}
			}
		}
	}
	slices.Sort(out)
	return out
}
