// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

// File is the parsed form of a policy file.
//
// Types are named by package path and type name, as in
// "example.com/bank.Account". Class lists name registered types the same
// way.
type File struct {
	Version int        `yaml:"version" json:"version" validate:"required,eq=1"`
	Types   []TypeSpec `yaml:"types" json:"types" validate:"required,min=1,unique=Name,dive"`
}

// TypeSpec configures the aspects of one type. At least one aspect is
// required.
type TypeSpec struct {
	Name        string           `yaml:"name" json:"name" validate:"required,typename"`
	Freezable   *FreezableSpec   `yaml:"freezable,omitempty" json:"freezable,omitempty"`
	Lockable    *LockableSpec    `yaml:"lockable,omitempty" json:"lockable,omitempty"`
	Alienatable *AlienatableSpec `yaml:"alienatable,omitempty" json:"alienatable,omitempty"`
}

// FreezableSpec configures the freezable aspect. Unset flags keep their
// defaults.
type FreezableSpec struct {
	LetFreeze *bool    `yaml:"let_freeze,omitempty" json:"let_freeze,omitempty"`
	LetMelt   *bool    `yaml:"let_melt,omitempty" json:"let_melt,omitempty"`
	Methods   []string `yaml:"methods,omitempty" json:"methods,omitempty" validate:"dive,required"`
}

// LockableSpec configures the lockable aspect. Lock maps each key to the
// classes allowed to lock with it; an empty list leaves the key
// unrestricted. Unlock overrides the unlock permissions of its keys.
// Methods maps guarded methods to their keys.
type LockableSpec struct {
	Lock    map[string][]string `yaml:"lock" json:"lock" validate:"required,min=1,dive,keys,required,endkeys,dive,typename"`
	Unlock  map[string][]string `yaml:"unlock,omitempty" json:"unlock,omitempty" validate:"dive,keys,required,endkeys,dive,typename"`
	Methods map[string][]string `yaml:"methods,omitempty" json:"methods,omitempty" validate:"dive,keys,required,endkeys,min=1,dive,required"`
}

// AlienatableSpec configures the alienatable aspect. Friends maps group
// names to classes; the group "" is the default group. Methods maps guarded
// methods to their extra groups.
type AlienatableSpec struct {
	Friends map[string][]string `yaml:"friends" json:"friends" validate:"required,min=1,dive,dive,typename"`
	Methods map[string][]string `yaml:"methods,omitempty" json:"methods,omitempty" validate:"dive,keys,required,endkeys"`
}
