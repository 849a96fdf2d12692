// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compose layers aspects (freezing, locking, alien checks) onto
// ordinary struct types.
//
// A user type opts in by embedding Entity:
//
//	type Account struct {
//		compose.Entity
//		Balance int
//	}
//
// Define starts a composition scoped to one type. The builder collects the
// constructor and method specs, and Build validates everything, merges
// permission tables with any previously composed ancestor and returns a
// Type. Type.New routes one combined argument list into each aspect's load
// step and then into the user constructor.
//
// Guarded methods call Guard first:
//
//	func (a *Account) Withdraw(ctx context.Context, n int) error {
//		if err := compose.Guard(ctx, a, "Withdraw"); err != nil {
//			return err
//		}
//		a.Balance -= n
//		return nil
//	}
package compose

import (
	"github.com/google/uuid"
)

// Instance is implemented by every type that embeds Entity.
type Instance interface {
	Core() *Entity
}

// Entity holds the composition state of one instance: its wrapper, an
// identity and one state value per aspect kind. A view entity additionally
// refers to its source instance.
//
// The zero Entity is unconstructed. Entities are owned by the goroutine that
// holds the instance and carry no lock.
type Entity struct {
	wrapper *Wrapper
	id      uuid.UUID
	states  map[string]any
	source  Instance
}

// Core returns e. Embedding Entity makes a pointer to the embedding type an
// Instance.
func (e *Entity) Core() *Entity { return e }

// ID returns the identity assigned at construction.
func (e *Entity) ID() uuid.UUID { return e.id }

// Wrapper returns the wrapper the instance was constructed with.
func (e *Entity) Wrapper() *Wrapper { return e.wrapper }

// Constructed reports whether a wrapper constructed the instance.
func (e *Entity) Constructed() bool { return e.wrapper != nil }

// IsView reports whether e belongs to a view.
func (e *Entity) IsView() bool { return e.source != nil }

// Source returns the viewed instance, nil for non-view entities.
func (e *Entity) Source() Instance { return e.source }

// State returns the state stored for an aspect kind.
func (e *Entity) State(kind string) any { return e.states[kind] }

// SetState stores the state of an aspect kind. Aspects call it from Load.
func (e *Entity) SetState(kind string, st any) {
	if e.states == nil {
		e.states = make(map[string]any)
	}
	e.states[kind] = st
}

// TypeName returns the name of the composed class, or "<unconstructed>".
func (e *Entity) TypeName() string {
	if e.wrapper == nil {
		return "<unconstructed>"
	}
	return e.wrapper.class.Name()
}
