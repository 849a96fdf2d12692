// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes shared by every command.
const (
	CLIExitSuccess = 0 // Operation completed successfully
	CLIExitInvalid = 1 // The policy is invalid
	CLIExitError   = 2 // Operation failed
)

// exitError carries an exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// withCode attaches code to err.
func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return CLIExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return CLIExitError
}

// PolicyValidateResult is the JSON form of "policy validate".
type PolicyValidateResult struct {
	File  string   `json:"file"`
	Valid bool     `json:"valid"`
	Types []string `json:"types,omitempty"`
	Hash  string   `json:"hash,omitempty"`
	Error string   `json:"error,omitempty"`
}

// PolicyVerifyResult is the JSON form of "policy verify".
type PolicyVerifyResult struct {
	File     string `json:"file"`
	Hash     string `json:"hash"`
	ByteSize int    `json:"byte_size"`
}

// outputJSON writes data as indented JSON.
func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
