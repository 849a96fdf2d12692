// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callframe

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/frozen/pkg/logging"
	"github.com/AleutianAI/frozen/pkg/registry"
	"github.com/AleutianAI/frozen/pkg/telemetry"
)

// Classifier resolves frames to method locations and memoizes the results.
//
// Thread Safety: safe for concurrent use. Concurrent misses on the same key
// are collapsed into one resolution.
type Classifier struct {
	reg    *registry.Registry
	logger *logging.Logger

	mu        sync.RWMutex
	entries   map[string]entry
	byHandle  map[registry.Handle]map[string]struct{}
	negatives map[string]struct{}
	gen       uint64

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	loc    *MethodLocation
	handle registry.Handle
}

// Stats is a snapshot of classifier counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Entries   int
	Negatives int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the classifier logger. Default: logging.Discard().
func WithLogger(l *logging.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Classifier over reg. It subscribes to reg so that retiring
// a class drops its entries and registering a class drops unresolved ones.
func New(reg *registry.Registry, opts ...Option) *Classifier {
	c := &Classifier{
		reg:       reg,
		logger:    logging.Discard(),
		entries:   make(map[string]entry),
		byHandle:  make(map[registry.Handle]map[string]struct{}),
		negatives: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	reg.OnRetire(c.forget)
	reg.OnRegister(func(*registry.Class) { c.dropNegatives() })
	return c
}

// Registry returns the registry the classifier resolves against.
func (c *Classifier) Registry() *registry.Registry { return c.reg }

// Classify returns the location of frame, or nil when no registered class
// declares it. hints are consulted only for frames without a receiver.
// Classify never fails.
func (c *Classifier) Classify(frame Frame, hints []*registry.Class) *MethodLocation {
	info := ParseFuncName(string(frame.Code))
	key := cacheKey(frame.Code, info, hints)

	c.mu.RLock()
	e, ok := c.entries[key]
	_, negative := c.negatives[key]
	gen := c.gen
	c.mu.RUnlock()

	if ok || negative {
		c.hits.Add(1)
		telemetry.RecordLookup(context.Background(), telemetry.LookupHit)
		return e.loc
	}

	c.misses.Add(1)
	telemetry.RecordLookup(context.Background(), telemetry.LookupMiss)

	v, _, _ := c.group.Do(key, func() (any, error) {
		return c.store(key, c.resolve(frame.Code, info, hints), gen), nil
	})
	loc, _ := v.(*MethodLocation)
	if loc == nil {
		telemetry.RecordLookup(context.Background(), telemetry.LookupUnresolved)
	}
	return loc
}

// Stats returns the current counters.
func (c *Classifier) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Entries:   len(c.entries),
		Negatives: len(c.negatives),
	}
}

// resolve performs the uncached search.
func (c *Classifier) resolve(code CodeIdentity, info FuncInfo, hints []*registry.Class) *MethodLocation {
	if info.HasReceiver() {
		cls, ok := c.reg.LookupName(info.Pkg, info.RecvType)
		if !ok || cls.Retired() {
			return nil
		}
		if isExported(info.Name) && !cls.HasMethod(info.Name) {
			return nil
		}
		return &MethodLocation{Class: cls, Method: info.Name, Code: code, Closure: info.Closure}
	}

	if info.Enclosing == "" {
		return nil
	}
	visited := make(map[*registry.Class]bool)
	for _, hint := range hints {
		if cls := searchStatic(hint, info, visited); cls != nil {
			return &MethodLocation{Class: cls, Method: info.Name, Code: code, Static: true, Closure: info.Closure}
		}
	}
	return nil
}

// searchStatic looks for a static registered under info.Name whose symbol
// matches. On a mismatch the subclasses are searched, since a derived type
// may register its own function under the same short name.
func searchStatic(cls *registry.Class, info FuncInfo, visited map[*registry.Class]bool) *registry.Class {
	if cls == nil || cls.Retired() || visited[cls] {
		return nil
	}
	visited[cls] = true

	if sym, ok := cls.Static(info.Name); ok && strings.ReplaceAll(sym, "[...]", "") == info.Enclosing {
		return cls
	}
	for _, sub := range cls.Subclasses() {
		if found := searchStatic(sub, info, visited); found != nil {
			return found
		}
	}
	return nil
}

// store records a resolution and returns the location callers should use,
// which is the previously stored one if another lookup won the race. Results
// involving a retired class are not stored; unresolved results are not
// stored if a class was registered since the lookup started.
func (c *Classifier) store(key string, loc *MethodLocation, gen uint64) *MethodLocation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if loc == nil {
		if gen == c.gen {
			c.negatives[key] = struct{}{}
		}
		return nil
	}
	if loc.Class.Retired() {
		return loc
	}
	if prev, ok := c.entries[key]; ok {
		return prev.loc
	}
	h := loc.Class.Handle()
	c.entries[key] = entry{loc: loc, handle: h}
	keys, ok := c.byHandle[h]
	if !ok {
		keys = make(map[string]struct{})
		c.byHandle[h] = keys
	}
	keys[key] = struct{}{}
	return loc
}

// forget drops every entry resolved to cls.
func (c *Classifier) forget(cls *registry.Class) {
	c.mu.Lock()
	keys := c.byHandle[cls.Handle()]
	for key := range keys {
		delete(c.entries, key)
	}
	delete(c.byHandle, cls.Handle())
	c.mu.Unlock()

	if len(keys) > 0 {
		c.logger.Debug("classifier entries dropped", "class", cls.Name(), "entries", len(keys))
	}
}

func (c *Classifier) dropNegatives() {
	c.mu.Lock()
	c.gen++
	if len(c.negatives) > 0 {
		c.negatives = make(map[string]struct{})
	}
	c.mu.Unlock()
}

// cacheKey keys receiver frames by symbol alone and receiverless frames by
// symbol plus hint handles, since only the latter depend on the hints.
func cacheKey(code CodeIdentity, info FuncInfo, hints []*registry.Class) string {
	if info.HasReceiver() || len(hints) == 0 {
		return string(code)
	}
	var b strings.Builder
	b.WriteString(string(code))
	for _, h := range hints {
		b.WriteByte('|')
		if h != nil {
			b.WriteString(strconv.FormatUint(uint64(h.Handle()), 10))
		}
	}
	return b.String()
}
