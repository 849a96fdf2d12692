// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Class is a registered struct type.
//
// Parents are fixed at registration. Subclasses, statics and attachments
// grow as the program registers more types.
type Class struct {
	handle   Handle
	rtype    reflect.Type
	pkg      string
	typeName string
	parents  []*Class
	registry *Registry
	retired  atomic.Bool

	// guarded by registry.mu
	subclasses []*Class
	statics    map[string]string

	attachMu    sync.RWMutex
	attachments map[any]any
}

// Handle returns the class handle.
func (c *Class) Handle() Handle { return c.handle }

// Type returns the registered struct type.
func (c *Class) Type() reflect.Type { return c.rtype }

// Package returns the import path of the declaring package.
func (c *Class) Package() string { return c.pkg }

// TypeName returns the unqualified type name without type arguments.
func (c *Class) TypeName() string { return c.typeName }

// Name returns "pkgpath.TypeName".
func (c *Class) Name() string { return c.pkg + "." + c.typeName }

// String implements fmt.Stringer.
func (c *Class) String() string {
	if c == nil {
		return "<none>"
	}
	return c.Name()
}

// Registry returns the registry c belongs to.
func (c *Class) Registry() *Registry { return c.registry }

// Retired reports whether Retire was called for c.
func (c *Class) Retired() bool { return c.retired.Load() }

// Parents returns the direct parents in embedding order.
func (c *Class) Parents() []*Class {
	out := make([]*Class, len(c.parents))
	copy(out, c.parents)
	return out
}

// Ancestors returns c followed by every transitive parent, breadth first,
// each class once.
func (c *Class) Ancestors() []*Class {
	out := []*Class{c}
	seen := map[*Class]bool{c: true}
	for i := 0; i < len(out); i++ {
		for _, p := range out[i].parents {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// IsSubclassOf reports whether c is other or embeds it, directly or
// transitively.
func (c *Class) IsSubclassOf(other *Class) bool {
	if c == nil || other == nil {
		return false
	}
	if c == other {
		return true
	}
	for _, p := range c.parents {
		if p.IsSubclassOf(other) {
			return true
		}
	}
	return false
}

// Subclasses returns the live direct subclasses in registration order.
func (c *Class) Subclasses() []*Class {
	c.registry.mu.RLock()
	defer c.registry.mu.RUnlock()
	out := make([]*Class, len(c.subclasses))
	copy(out, c.subclasses)
	return out
}

// HasMethod reports whether the pointer method set of the class contains
// the exported method name.
func (c *Class) HasMethod(name string) bool {
	_, ok := reflect.PointerTo(c.rtype).MethodByName(name)
	return ok
}

// Static returns the runtime symbol of the static function registered under
// the short name.
func (c *Class) Static(name string) (string, bool) {
	c.registry.mu.RLock()
	defer c.registry.mu.RUnlock()
	sym, ok := c.statics[name]
	return sym, ok
}

// Attach stores v under key. Packages use unexported key types to avoid
// collisions.
func (c *Class) Attach(key, v any) {
	c.attachMu.Lock()
	c.attachments[key] = v
	c.attachMu.Unlock()
}

// Attachment returns the value stored under key.
func (c *Class) Attachment(key any) (any, bool) {
	c.attachMu.RLock()
	defer c.attachMu.RUnlock()
	v, ok := c.attachments[key]
	return v, ok
}
