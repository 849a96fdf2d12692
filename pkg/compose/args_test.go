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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailor_SplitsArguments(t *testing.T) {
	intended := Params("a", "b")
	augmented := Params("frozen", "a")

	ctor, layer, err := Tailor(intended, augmented, Positional(1).With("b", 2, "frozen", true))
	require.NoError(t, err)

	assert.Equal(t, []any{1}, ctor.Positional)
	assert.Equal(t, map[string]any{"b": 2}, ctor.Keyword)
	assert.Empty(t, layer.Positional)
	assert.Equal(t, map[string]any{"frozen": true, "a": 1}, layer.Keyword)
}

func TestTailor_Errors(t *testing.T) {
	intended := Params("a")
	augmented := Params("frozen")

	tests := []struct {
		name    string
		args    Args
		message string
	}{
		{"too many positional", Positional(1, 2), "takes 1 positional arguments but 2 were given"},
		{"duplicate", Positional(1).With("a", 2), `multiple values for argument "a"`},
		{"unknown", Kw("zzz", 1), `unexpected keyword argument "zzz"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Tailor(intended, augmented, tt.args)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUsage)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestTailorAll_VarKeywordAndSkip(t *testing.T) {
	intended := Signature{Params: []string{"self", "a"}, Skip: 1}
	layers := []Signature{{VarKeyword: true}, Params("locks")}

	ctor, out, err := TailorAll(intended, layers, Positional("x").With("locks", []string{"k"}, "extra", 3))
	require.NoError(t, err)

	assert.Equal(t, []any{"x"}, ctor.Positional)
	assert.Empty(t, ctor.Keyword)
	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{"a": "x", "locks": []string{"k"}, "extra": 3}, out[0].Keyword)
	assert.Equal(t, map[string]any{"locks": []string{"k"}}, out[1].Keyword)
}

func TestArgs_NamedAndWith(t *testing.T) {
	base := Kw("x", 1)
	more := base.With("y", 2)

	_, ok := base.Get("y")
	assert.False(t, ok, "With must not modify the receiver")
	v, ok := more.Get("y")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	named := Positional("p", "q").With("z", 9).Named(Params("first", "second"))
	assert.Equal(t, map[string]any{"first": "p", "second": "q", "z": 9}, named)
}

func TestSignature_Accepts(t *testing.T) {
	assert.True(t, Params("a").Accepts("a"))
	assert.False(t, Params("a").Accepts("b"))
	assert.True(t, Signature{VarKeyword: true}.Accepts("anything"))
	assert.Nil(t, Signature{Params: []string{"a"}, Skip: 3}.bindable())
}
