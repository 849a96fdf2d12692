// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy loads aspect configuration from YAML policy files.
//
// A policy names composed types and the freezable, lockable and alienatable
// configuration of each. Parsing is strict: unknown fields are rejected and
// the result is validated. Resolving a policy against a registry turns
// class names into registered classes; the resolved policy then builds
// fresh aspects for each composition.
//
//	f, err := policy.LoadFile("bank.yaml")
//	p, err := f.Resolve(reg)
//	typ, err := policy.Build[bank.Account](p, reg)
package policy

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize bounds policy files read by LoadFile.
const MaxFileSize = 1 << 20

var (
	// ErrInvalidPolicy indicates a policy that does not parse or validate.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrUnknownType indicates a type name the registry does not know.
	ErrUnknownType = errors.New("unknown type")
)

// Example is a complete policy file for a small bank.
//
//go:embed example.yaml
var Example []byte

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("typename", validateTypeName)
}

// validateTypeName accepts "pkg/path.Type".
func validateTypeName(fl validator.FieldLevel) bool {
	_, _, ok := SplitName(fl.Field().String())
	return ok
}

// SplitName splits a qualified type name into package path and type name.
// The package path ends at the first '.' after the last '/'.
func SplitName(name string) (pkg, typeName string, ok bool) {
	slash := strings.LastIndexByte(name, '/')
	dot := strings.IndexByte(name[slash+1:], '.')
	if dot < 0 {
		return "", "", false
	}
	dot += slash + 1
	pkg, typeName = name[:dot], name[dot+1:]
	if pkg == "" || typeName == "" || strings.ContainsAny(typeName, "./ ") {
		return "", "", false
	}
	return pkg, typeName, true
}

// Parse decodes and validates a policy.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidPolicy)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, describe(err))
	}
	for i, ts := range f.Types {
		if ts.Freezable == nil && ts.Lockable == nil && ts.Alienatable == nil {
			return nil, fmt.Errorf("%w: File.Types[%d]: one of Freezable, Lockable or Alienatable is required",
				ErrInvalidPolicy, i)
		}
	}
	return &f, nil
}

// LoadFile reads and parses the policy at path. Files larger than
// MaxFileSize are rejected.
func LoadFile(path string) (*File, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// ReadFile reads path, enforcing MaxFileSize.
func ReadFile(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy: %w", err)
	}
	defer fh.Close()

	data, err := io.ReadAll(io.LimitReader(fh, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidPolicy, path, MaxFileSize)
	}
	return data, nil
}

// Fingerprint returns the hex SHA-256 of data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// describe flattens validation errors into one line.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			parts[i] = fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		} else {
			parts[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		}
	}
	return strings.Join(parts, "; ")
}

// qualifiedName returns the policy name of t. Type arguments are dropped.
func qualifiedName(t reflect.Type) string {
	name, _, _ := strings.Cut(t.Name(), "[")
	return t.PkgPath() + "." + name
}
