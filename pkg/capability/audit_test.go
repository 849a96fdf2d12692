// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frozen/pkg/capability"
	"github.com/AleutianAI/frozen/pkg/logging"
	"github.com/AleutianAI/frozen/pkg/registry"
)

type failingAuditor struct{}

func (failingAuditor) Record(context.Context, capability.AuditEvent) error {
	return errors.New("disk full")
}

func TestInstall_RecordsDecisions(t *testing.T) {
	f := newFixture(t)
	audit := capability.NewMemoryAuditor(0)
	r := capability.Install(f.reg, capability.WithAuditor(audit))
	assert.Same(t, r, capability.For(f.reg))
	assert.NotSame(t, f.resolver, r)

	set := capability.Of(f.admin)
	before := time.Now().UTC()
	r.Authorize(capability.WithCaller(context.Background(), f.admin), capability.Request{Aspect: "lockable", Set: set})
	r.Authorize(capability.WithCaller(context.Background(), f.guest), capability.Request{Aspect: "lockable", Set: set})
	(&Admin{}).Try(r, set)

	require.Equal(t, 3, audit.Len())
	events := audit.Query(capability.AuditFilter{})
	require.Len(t, events, 3)
	assert.Equal(t, "test", events[0].Aspect, "newest first")
	assert.Equal(t, capability.EventGranted, events[0].EventType)
	assert.False(t, events[0].Explicit)

	denied := audit.Query(capability.AuditFilter{EventTypes: []string{capability.EventDenied}})
	require.Len(t, denied, 1)
	assert.Equal(t, f.guest.Name(), denied[0].Caller)
	assert.True(t, denied[0].Explicit)
	assert.False(t, denied[0].Timestamp.Before(before))

	assert.Len(t, audit.Query(capability.AuditFilter{Aspect: "lockable"}), 2)
	assert.Len(t, audit.Query(capability.AuditFilter{Caller: f.admin.Name()}), 2)
	assert.Len(t, audit.Query(capability.AuditFilter{Limit: 1}), 1)
	assert.Empty(t, audit.Query(capability.AuditFilter{Since: time.Now().Add(time.Hour)}))
}

func TestMemoryAuditor_DropsOldest(t *testing.T) {
	audit := capability.NewMemoryAuditor(2)
	ctx := context.Background()
	for _, aspect := range []string{"a", "b", "c"} {
		require.NoError(t, audit.Record(ctx, capability.AuditEvent{Aspect: aspect}))
	}
	events := audit.Query(capability.AuditFilter{})
	require.Len(t, events, 2)
	assert.Equal(t, "c", events[0].Aspect)
	assert.Equal(t, "b", events[1].Aspect)
}

func TestAudit_FailureDoesNotChangeDecision(t *testing.T) {
	reg := registry.New()
	admin := registry.MustRegister[Admin](reg)
	logs := logging.NewBufferedExporter()
	r := capability.Install(reg,
		capability.WithAuditor(failingAuditor{}),
		capability.WithLogger(logging.New(logging.Config{Quiet: true, Exporter: logs})),
	)

	d := r.Authorize(capability.WithCaller(context.Background(), admin), capability.Request{Set: capability.Of(admin)})
	assert.True(t, d.Allowed)
	assert.Contains(t, logs.Messages(), "audit record failed")
}
