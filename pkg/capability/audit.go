// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Audit event types.
const (
	EventGranted = "authz.granted"
	EventDenied  = "authz.denied"
)

// AuditEvent records one authorization decision.
//
// Example:
//
//	event := AuditEvent{
//	    EventType: EventDenied,
//	    Timestamp: time.Now().UTC(),
//	    Aspect:    "lockable",
//	    Caller:    "example.com/bank.Guest",
//	}
type AuditEvent struct {
	// EventType is EventGranted or EventDenied.
	EventType string

	// Timestamp is when the decision was made (UTC).
	Timestamp time.Time

	// Aspect is the requesting aspect kind.
	Aspect string

	// Groups are the groups the caller was checked against. Empty means all.
	Groups []string

	// Caller is the qualified name of the deciding class, empty when no
	// frame classified.
	Caller string

	// Explicit is set when the caller came from the context.
	Explicit bool
}

// AuditFilter selects audit events. Zero fields match everything; set
// fields combine with AND.
type AuditFilter struct {
	// EventTypes limits results to these event types.
	EventTypes []string

	// Aspect limits results to one aspect kind.
	Aspect string

	// Caller limits results to one caller name.
	Caller string

	// Since is the earliest timestamp included.
	Since time.Time

	// Limit caps the number of results. Zero means no cap.
	Limit int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if f.Aspect != "" && f.Aspect != e.Aspect {
		return false
	}
	if f.Caller != "" && f.Caller != e.Caller {
		return false
	}
	return f.Since.IsZero() || !e.Timestamp.Before(f.Since)
}

// Auditor receives authorization decisions.
//
// Record is called synchronously from Authorize and must not block. An
// error is logged; it never changes the decision.
type Auditor interface {
	Record(ctx context.Context, event AuditEvent) error
}

// NopAuditor discards every event. It is the resolver default.
type NopAuditor struct{}

// Record discards event.
func (NopAuditor) Record(context.Context, AuditEvent) error { return nil }

// MemoryAuditor keeps the most recent events in memory.
//
// Thread Safety: safe for concurrent use.
type MemoryAuditor struct {
	mu     sync.Mutex
	events []AuditEvent
	max    int
}

// DefaultAuditCapacity is the MemoryAuditor capacity used when none is
// given.
const DefaultAuditCapacity = 1024

// NewMemoryAuditor returns an auditor keeping up to capacity events; older
// events are dropped first. Non-positive capacity uses
// DefaultAuditCapacity.
func NewMemoryAuditor(capacity int) *MemoryAuditor {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &MemoryAuditor{max: capacity}
}

// Record stores event.
func (m *MemoryAuditor) Record(_ context.Context, event AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == m.max {
		m.events = slices.Delete(m.events, 0, 1)
	}
	m.events = append(m.events, event)
	return nil
}

// Query returns matching events, newest first.
func (m *MemoryAuditor) Query(filter AuditFilter) []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []AuditEvent{}
	for i := len(m.events) - 1; i >= 0; i-- {
		if !filter.matches(m.events[i]) {
			continue
		}
		out = append(out, m.events[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// Len returns the number of stored events.
func (m *MemoryAuditor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

var (
	_ Auditor = NopAuditor{}
	_ Auditor = (*MemoryAuditor)(nil)
)
