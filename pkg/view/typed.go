// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package view

import (
	"github.com/AleutianAI/frozen/pkg/compose"
)

// View is the typed view of a *T.
type View[T any, PT interface {
	*T
	compose.Instance
}] struct {
	*Proxy
	src PT
}

// Of returns the typed view of x.
func Of[T any, PT interface {
	*T
	compose.Instance
}](x PT) (*View[T, PT], error) {
	p, err := New(x)
	if err != nil {
		return nil, err
	}
	src, ok := p.src.(PT)
	if !ok {
		// x was itself a view of another dynamic type.
		src = x
	}
	return &View[T, PT]{Proxy: p, src: src}, nil
}

// View returns v; a view of a view is the same view.
func (v *View[T, PT]) View() *View[T, PT] { return v }

// Snapshot returns a copy of the source's current value whose entity is the
// view entity, so aspects treat it as a view.
func (v *View[T, PT]) Snapshot() T {
	out := *v.src
	*PT(&out).Core() = *v.entity
	return out
}
