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
	"sort"

	"github.com/AleutianAI/frozen/pkg/registry"
)

// DefaultGroup is the qualifier of the unnamed group.
const DefaultGroup = ""

// Set is a collection of authorized classes keyed by qualifier. A lock key or
// a friend group name is a qualifier; DefaultGroup holds unqualified members.
//
// A nil *Set is empty. Sets are built at composition time and only read
// afterwards, so they carry no lock.
type Set struct {
	groups map[string][]*registry.Class
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{groups: make(map[string][]*registry.Class)}
}

// Of creates a set whose default group holds classes.
func Of(classes ...*registry.Class) *Set {
	s := NewSet()
	s.Add(DefaultGroup, classes...)
	return s
}

// Add puts classes into group, creating the group if needed. Duplicates and
// nil classes are ignored. Adding no classes still creates the group.
func (s *Set) Add(group string, classes ...*registry.Class) {
	members, ok := s.groups[group]
	if !ok {
		members = []*registry.Class{}
	}
	for _, c := range classes {
		if c != nil && !containsClass(members, c) {
			members = append(members, c)
		}
	}
	s.groups[group] = members
}

// Merge adds every group and member of other.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for g, members := range other.groups {
		s.Add(g, members...)
	}
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	out := NewSet()
	out.Merge(s)
	return out
}

// Empty reports whether the set has no groups at all.
func (s *Set) Empty() bool { return s == nil || len(s.groups) == 0 }

// Has reports whether group exists.
func (s *Set) Has(group string) bool {
	if s == nil {
		return false
	}
	_, ok := s.groups[group]
	return ok
}

// Groups returns the group names in sorted order.
func (s *Set) Groups() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Members returns the members of the selected groups, de-duplicated, in
// group order. With no groups, every member is returned.
func (s *Set) Members(groups ...string) []*registry.Class {
	if s == nil {
		return nil
	}
	if len(groups) == 0 {
		groups = s.Groups()
	}
	var out []*registry.Class
	for _, g := range groups {
		for _, c := range s.groups[g] {
			if !containsClass(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Allows reports whether caller is, or embeds, a member of one of the
// selected groups.
func (s *Set) Allows(caller *registry.Class, groups ...string) bool {
	if caller == nil {
		return false
	}
	for _, m := range s.Members(groups...) {
		if caller.IsSubclassOf(m) {
			return true
		}
	}
	return false
}

func containsClass(list []*registry.Class, c *registry.Class) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
