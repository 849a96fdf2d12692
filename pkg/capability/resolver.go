// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package capability decides whether the current caller belongs to a set of
// authorized classes.
//
// The caller is either carried explicitly by the context (WithCaller) or
// derived from the stack: the nearest frame that classifies to a registered
// class decides. Stack-derived decisions skip the frame of the guarded method
// itself, which in Go sits between the caller and the guard.
package capability

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/frozen/pkg/callframe"
	"github.com/AleutianAI/frozen/pkg/logging"
	"github.com/AleutianAI/frozen/pkg/registry"
	"github.com/AleutianAI/frozen/pkg/telemetry"
	"github.com/AleutianAI/frozen/pkg/tracer"
)

// =============================================================================
// Explicit caller tokens
// =============================================================================

type callerKey struct{}

// WithCaller returns a context that authorizes as class c. Resolvers do not
// inspect the stack for such contexts.
func WithCaller(ctx context.Context, c *registry.Class) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// WithCallerOf is WithCaller for the registered class of v.
func WithCallerOf(ctx context.Context, reg *registry.Registry, v any) (context.Context, error) {
	c, ok := reg.LookupOf(v)
	if !ok {
		return ctx, fmt.Errorf("caller %T: %w", v, ErrUnregisteredCaller)
	}
	return WithCaller(ctx, c), nil
}

// CallerFrom returns the explicit caller carried by ctx.
func CallerFrom(ctx context.Context) (*registry.Class, bool) {
	c, ok := ctx.Value(callerKey{}).(*registry.Class)
	return c, ok && c != nil
}

// =============================================================================
// Requests and decisions
// =============================================================================

// Method names a guarded method. Frames of Name declared on Class, or on a
// class Class embeds, match.
type Method struct {
	Class *registry.Class
	Name  string
}

func (m *Method) matches(loc *callframe.MethodLocation) bool {
	return m != nil && loc.Method == m.Name && m.Class.IsSubclassOf(loc.Class)
}

// Request describes one authorization.
type Request struct {
	// Aspect labels telemetry ("lockable", "alienatable").
	Aspect string

	// Set holds the authorized classes.
	Set *Set

	// Groups selects qualifiers of Set. Empty selects all groups.
	Groups []string

	// SkipMethod is the guarded method; its innermost frame is skipped once.
	SkipMethod *Method
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool

	// Caller is the class that decided, nil when no frame classified.
	Caller *registry.Class

	// Observed lists the classes of classified frames visited, innermost
	// first.
	Observed []*registry.Class

	// Explicit is set when the caller came from the context.
	Explicit bool
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver authorizes callers.
//
// Thread Safety: safe for concurrent use.
type Resolver struct {
	tracer  *tracer.Tracer
	logger  *logging.Logger
	auditor Auditor
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger. Default: logging.Discard().
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAuditor sets the auditor receiving every decision. Default:
// NopAuditor.
func WithAuditor(a Auditor) Option {
	return func(r *Resolver) {
		if a != nil {
			r.auditor = a
		}
	}
}

// New creates a Resolver driving tr.
func New(tr *tracer.Tracer, opts ...Option) *Resolver {
	r := &Resolver{tracer: tr, logger: logging.Discard(), auditor: NopAuditor{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var resolvers sync.Map // *registry.Registry -> *Resolver, until Forget

// For returns the shared resolver of reg, creating its classifier and tracer
// on first use.
func For(reg *registry.Registry) *Resolver {
	if r, ok := resolvers.Load(reg); ok {
		return r.(*Resolver)
	}
	r, _ := resolvers.LoadOrStore(reg, New(tracer.New(callframe.New(reg))))
	return r.(*Resolver)
}

// Install replaces the shared resolver of reg with one configured by opts
// and returns it. Guards already bound to reg use it from their next call.
func Install(reg *registry.Registry, opts ...Option) *Resolver {
	r := New(tracer.New(callframe.New(reg)), opts...)
	resolvers.Store(reg, r)
	return r
}

// Forget drops the shared resolver of reg and with it the classifier cache.
// Shared resolvers otherwise live as long as the process; short-lived
// registries call Forget when they are done. A later For starts afresh.
func Forget(reg *registry.Registry) {
	resolvers.Delete(reg)
}

// Tracer returns the tracer used for stack walks.
func (r *Resolver) Tracer() *tracer.Tracer { return r.tracer }

// Authorize decides req for the current caller.
func (r *Resolver) Authorize(ctx context.Context, req Request) Decision {
	ctx, span := telemetry.StartAuthorization(ctx, req.Aspect, req.Groups)

	var d Decision
	if c, ok := CallerFrom(ctx); ok {
		d = Decision{Caller: c, Observed: []*registry.Class{c}, Explicit: true}
	} else {
		hints := req.Set.Members(req.Groups...)
		skipped := false
		for loc := range r.tracer.Trace(hints, 1) {
			if loc == nil {
				continue
			}
			d.Observed = append(d.Observed, loc.Class)
			if !skipped && req.SkipMethod.matches(loc) {
				skipped = true
				continue
			}
			d.Caller = loc.Class
			break
		}
	}
	d.Allowed = req.Set.Allows(d.Caller, req.Groups...)

	telemetry.RecordAuthorization(ctx, req.Aspect, d.Allowed)
	callerName := ""
	if d.Caller != nil {
		callerName = d.Caller.Name()
	}
	telemetry.EndAuthorization(span, d.Allowed, d.Explicit, callerName)

	r.audit(ctx, req, d, callerName)

	r.logger.Debug("authorization",
		"aspect", req.Aspect,
		"groups", req.Groups,
		"caller", d.Caller.String(),
		"allowed", d.Allowed,
		"explicit", d.Explicit,
	)
	return d
}

func (r *Resolver) audit(ctx context.Context, req Request, d Decision, caller string) {
	event := AuditEvent{
		EventType: EventDenied,
		Timestamp: time.Now().UTC(),
		Aspect:    req.Aspect,
		Groups:    slices.Clone(req.Groups),
		Caller:    caller,
		Explicit:  d.Explicit,
	}
	if d.Allowed {
		event.EventType = EventGranted
	}
	if err := r.auditor.Record(ctx, event); err != nil {
		r.logger.Warn("audit record failed", "aspect", req.Aspect, "error", err)
	}
}
