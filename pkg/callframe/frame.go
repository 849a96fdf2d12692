// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callframe maps goroutine stack frames back to the registered class
// whose method is executing.
//
// A frame is identified by its function symbol as reported by the runtime,
// for example "example.com/bank.(*Admin).Promote". Receiver frames resolve
// through the receiver type; closures and method values resolve to their
// enclosing function. Package-level functions have no receiver and resolve
// only through statics registered on the location hints.
//
// Results are memoized per symbol (per symbol and hint set for statics).
// Entries are indexed by class handle and dropped when the class is retired.
package callframe

import (
	"net/url"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/frozen/pkg/registry"
)

// CodeIdentity is the fully qualified runtime symbol of a function body. Two
// frames executing the same body share it.
type CodeIdentity string

// Frame is one logical stack frame. Inlined calls produce their own frames.
type Frame struct {
	Code CodeIdentity
	File string
	Line int
}

// FromRuntime converts a runtime.Frame.
func FromRuntime(f runtime.Frame) Frame {
	return Frame{Code: CodeIdentity(f.Function), File: f.File, Line: f.Line}
}

// MethodLocation associates a code identity with the class that declares it.
type MethodLocation struct {
	Class  *registry.Class
	Method string
	Code   CodeIdentity

	// Static is set when the frame was resolved through a registered static
	// function rather than a receiver.
	Static bool

	// Closure is set when the frame belongs to a function literal inside
	// Method.
	Closure bool
}

// String returns "pkg.Type.Method".
func (l *MethodLocation) String() string {
	if l == nil {
		return "<unresolved>"
	}
	return l.Class.Name() + "." + l.Method
}

// =============================================================================
// Symbol parsing
// =============================================================================

// FuncInfo is the decomposition of a runtime function symbol.
type FuncInfo struct {
	// Pkg is the unescaped import path.
	Pkg string

	// RecvType is the receiver type name without type arguments, empty for
	// package-level functions.
	RecvType string

	// RecvPtr is set for pointer receivers.
	RecvPtr bool

	// Name is the method or function name.
	Name string

	// Enclosing is the symbol of the named function containing the frame,
	// with closure suffixes, method-value suffixes and type arguments
	// removed.
	Enclosing string

	Closure     bool
	Generic     bool
	MethodValue bool
}

// HasReceiver reports whether the symbol names a method.
func (fi FuncInfo) HasReceiver() bool { return fi.RecvType != "" }

// ParseFuncName decomposes a runtime symbol. Unparseable input yields a
// FuncInfo with only Name set.
//
// Examples:
//
//	example.com/bank.(*Admin).Promote        pointer method
//	example.com/bank.Admin.Audit.func1       closure in value method
//	example.com/bank.(*Admin).Promote-fm     method value
//	example.com/bank.(*Ledger[...]).Append   generic receiver
//	example.com/bank.NewAccount.gowrap1      go statement wrapper
func ParseFuncName(sym string) FuncInfo {
	var info FuncInfo

	rest := sym
	if strings.HasSuffix(rest, "-fm") {
		info.MethodValue = true
		rest = strings.TrimSuffix(rest, "-fm")
	}
	if strings.Contains(rest, "[...]") {
		info.Generic = true
		rest = strings.ReplaceAll(rest, "[...]", "")
	}

	slash := strings.LastIndexByte(rest, '/')
	dot := strings.IndexByte(rest[slash+1:], '.')
	if dot < 0 {
		info.Name = rest
		return info
	}
	pkgEnd := slash + 1 + dot
	info.Pkg = unescapePkg(rest[:pkgEnd])

	parts := strings.Split(rest[pkgEnd+1:], ".")
	for len(parts) > 1 && isClosureSegment(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
		info.Closure = true
	}
	info.Enclosing = rest[:pkgEnd] + "." + strings.Join(parts, ".")

	if len(parts) == 1 {
		info.Name = parts[0]
		return info
	}

	recv, name := parts[len(parts)-2], parts[len(parts)-1]
	if strings.HasPrefix(recv, "(*") && strings.HasSuffix(recv, ")") {
		recv = recv[2 : len(recv)-1]
		info.RecvPtr = true
	}
	if recv == "" || name == "" {
		return FuncInfo{Name: sym}
	}
	info.RecvType = recv
	info.Name = name
	return info
}

// isClosureSegment matches compiler-generated suffixes: funcN, gowrapN,
// deferwrapN and bare digits for nested literals.
func isClosureSegment(s string) bool {
	for _, prefix := range []string{"func", "gowrap", "deferwrap"} {
		if strings.HasPrefix(s, prefix) && isDigits(s[len(prefix):]) {
			return true
		}
	}
	return isDigits(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// unescapePkg undoes the %xx escaping the linker applies to dots in the last
// path element ("gopkg.in/yaml%2ev3").
func unescapePkg(pkg string) string {
	if !strings.Contains(pkg, "%") {
		return pkg
	}
	if s, err := url.PathUnescape(pkg); err == nil {
		return s
	}
	return pkg
}

func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
