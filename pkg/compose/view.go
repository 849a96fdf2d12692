// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import "reflect"

// NewViewEntity builds the entity of a view of src. It shares src's wrapper
// and identity; every layer derives its view state from src through
// ViewState. Viewing a view returns the view's own entity.
func NewViewEntity(src Instance) (*Entity, error) {
	se := src.Core()
	if se.IsView() {
		return se, nil
	}
	if !se.Constructed() {
		return nil, usageErrorf(reflect.TypeOf(src).String(), "cannot view an unconstructed instance")
	}
	ve := &Entity{
		wrapper: se.wrapper,
		id:      se.id,
		states:  make(map[string]any, len(se.wrapper.layers)),
		source:  src,
	}
	for _, a := range se.wrapper.layers {
		ve.states[a.Kind()] = a.ViewState(se)
	}
	return ve, nil
}

// RejectView returns a StateError when e belongs to a view. Aspect mutators
// call it first.
func RejectView(e *Entity, op string) error {
	if e.IsView() {
		return &StateError{Kind: ErrViewImmutable, Method: op, Target: e.TypeName()}
	}
	return nil
}
