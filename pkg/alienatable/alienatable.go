// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alienatable restricts guarded methods to callers from friend
// classes.
//
// Friends are grouped. The default group may call every guarded method; a
// method may name further groups whose members may call it too. A caller
// belongs to a group when its class is, or embeds, a member.
//
// Example:
//
//	typ, err := compose.Define[Vault](reg).
//		Methods(alienatable.Method("Open", "auditors")).
//		Build(alienatable.New(
//			alienatable.Friends(tellerClass),
//			alienatable.Group("auditors", auditorClass),
//		))
package alienatable

import (
	"context"
	"slices"

	"github.com/AleutianAI/frozen/pkg/capability"
	"github.com/AleutianAI/frozen/pkg/compose"
	"github.com/AleutianAI/frozen/pkg/registry"
	"github.com/AleutianAI/frozen/pkg/telemetry"
)

// Kind is the aspect kind.
const Kind = "alienatable"

// Option configures the aspect.
type Option func(*Aspect)

// Friends adds classes to the default group.
func Friends(classes ...*registry.Class) Option {
	return Group(capability.DefaultGroup, classes...)
}

// Group adds classes to the named group.
func Group(name string, classes ...*registry.Class) Option {
	return func(a *Aspect) { a.friends.Add(name, classes...) }
}

// Method marks method as callable by the default group and groups.
func Method(method string, groups ...string) compose.MethodSpec {
	return compose.MethodSpec{Kind: Kind, Method: method, Data: groups}
}

// Aspect is the alienatable aspect of one composed type.
type Aspect struct {
	friends *capability.Set
	methods map[string][]string
	wrapper *compose.Wrapper
}

// New returns an alienatable aspect. At least one friend group is required.
func New(opts ...Option) *Aspect {
	a := &Aspect{friends: capability.NewSet(), methods: make(map[string][]string)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Kind implements compose.Aspect.
func (a *Aspect) Kind() string { return Kind }

// Signature implements compose.Aspect. The aspect takes no arguments.
func (a *Aspect) Signature() compose.Signature { return compose.Signature{} }

// Validate requires friends.
func (a *Aspect) Validate() error {
	if a.friends.Empty() {
		return &compose.ConfigurationError{
			Aspect: Kind,
			Reason: "no friends defined; use Friends or Group to define them",
		}
	}
	return nil
}

// Merge unions the ancestor's friends and guarded methods into a.
func (a *Aspect) Merge(prev compose.Aspect) error {
	p, ok := prev.(*Aspect)
	if !ok {
		return nil
	}
	a.friends.Merge(p.friends)
	for m, groups := range p.methods {
		a.methods[m] = mergeGroups(a.methods[m], groups)
	}
	return nil
}

// Bind implements compose.Aspect.
func (a *Aspect) Bind(w *compose.Wrapper, specs []compose.MethodSpec) error {
	a.wrapper = w
	for _, s := range specs {
		groups, _ := s.Data.([]string)
		a.methods[s.Method] = mergeGroups(a.methods[s.Method], groups)
	}
	return nil
}

// Load implements compose.Aspect; the aspect keeps no state.
func (a *Aspect) Load(*compose.Entity, compose.Args) error { return nil }

// Guard authorizes the caller of a guarded method. The guarded method's own
// frame is not the caller.
func (a *Aspect) Guard(ctx context.Context, e *compose.Entity, method string) error {
	groups, ok := a.methods[method]
	if !ok {
		return nil
	}
	cls := e.Wrapper().Class()
	d := capability.For(cls.Registry()).Authorize(ctx, capability.Request{
		Aspect:     Kind,
		Set:        a.friends,
		Groups:     a.allowedGroups(groups),
		SkipMethod: &capability.Method{Class: cls, Name: method},
	})
	if d.Allowed {
		return nil
	}
	err := &compose.AuthorizationError{
		Kind:   compose.ErrAlienCall,
		Method: method,
		Caller: d.Caller,
		Target: e.TypeName(),
	}
	telemetry.RecordGuardFailure(ctx, Kind, compose.KindLabel(err))
	return err
}

// allowedGroups returns the default group plus the method's groups that
// exist.
func (a *Aspect) allowedGroups(groups []string) []string {
	out := []string{capability.DefaultGroup}
	for _, g := range groups {
		if g != capability.DefaultGroup && a.friends.Has(g) {
			out = append(out, g)
		}
	}
	return out
}

// ViewState implements compose.Aspect.
func (a *Aspect) ViewState(*compose.Entity) any { return nil }

// CopyState implements compose.Aspect.
func (a *Aspect) CopyState(any) any { return nil }

// Friends returns the friend set. It must not be modified.
func (a *Aspect) Friends() *capability.Set { return a.friends }

// MethodGroups returns the extra groups of method.
func (a *Aspect) MethodGroups(method string) []string {
	return slices.Clone(a.methods[method])
}

func mergeGroups(dst, src []string) []string {
	if dst == nil {
		dst = []string{}
	}
	for _, g := range src {
		if !slices.Contains(dst, g) {
			dst = append(dst, g)
		}
	}
	return dst
}
