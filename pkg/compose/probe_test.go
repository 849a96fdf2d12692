// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose_test

import (
	"context"
	"errors"
	"slices"

	"github.com/AleutianAI/frozen/pkg/compose"
)

// probe is a minimal aspect that records its lifecycle.
type probe struct {
	kind    string
	params  []string
	perms   []string
	log     *[]string
	deny    map[string]error
	invalid bool
	loadErr error

	wrapper *compose.Wrapper
	guarded []string
}

type probeState struct {
	values map[string]any
	view   bool
}

func newProbe(kind string, log *[]string, params ...string) *probe {
	return &probe{kind: kind, params: params, log: log, deny: map[string]error{}}
}

func (p *probe) record(event string) {
	if p.log != nil {
		*p.log = append(*p.log, p.kind+":"+event)
	}
}

func (p *probe) Kind() string { return p.kind }

func (p *probe) Signature() compose.Signature { return compose.Params(p.params...) }

func (p *probe) Validate() error {
	if p.invalid {
		return errors.New("no policy")
	}
	return nil
}

func (p *probe) Merge(prev compose.Aspect) error {
	other := prev.(*probe)
	for _, perm := range other.perms {
		if !slices.Contains(p.perms, perm) {
			p.perms = append(p.perms, perm)
		}
	}
	p.guarded = append(p.guarded, other.guarded...)
	p.record("merge")
	return nil
}

func (p *probe) Bind(w *compose.Wrapper, specs []compose.MethodSpec) error {
	p.wrapper = w
	for _, s := range specs {
		p.guarded = append(p.guarded, s.Method)
	}
	return nil
}

func (p *probe) Load(e *compose.Entity, args compose.Args) error {
	p.record("load")
	e.SetState(p.kind, &probeState{values: args.Keyword})
	return p.loadErr
}

func (p *probe) Guard(_ context.Context, e *compose.Entity, method string) error {
	if !slices.Contains(p.guarded, method) {
		return nil
	}
	p.record("guard")
	return p.deny[method]
}

func (p *probe) ViewState(src *compose.Entity) any {
	st := src.State(p.kind).(*probeState)
	return &probeState{values: st.values, view: true}
}

func (p *probe) CopyState(st any) any {
	s := st.(*probeState)
	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return &probeState{values: values}
}

func stateOf(x compose.Instance, kind string) *probeState {
	st, _ := x.Core().State(kind).(*probeState)
	return st
}
