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
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/frozen/pkg/policy"
)

// =============================================================================
// POLICY VALIDATE COMMAND
// =============================================================================

// validatePolicy is the handler for "frozen policy validate".
//
// # Exit Codes
//
//   - 0: Policy is valid, or --watch ended
//   - 1: Policy is invalid
//   - 2: Error reading the file
func (c *cli) validatePolicy(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()

	err := c.validateOnce(out, path)
	if !c.watch {
		return err
	}
	return c.watchPolicy(cmd.Context(), out, path)
}

// validateOnce validates path and reports the result on w.
func (c *cli) validateOnce(w io.Writer, path string) error {
	result := PolicyValidateResult{File: path}

	data, err := policy.ReadFile(path)
	var f *policy.File
	if err == nil {
		result.Hash = "sha256:" + policy.Fingerprint(data)
		f, err = policy.Parse(data)
	}

	code := CLIExitSuccess
	if err != nil {
		code = CLIExitError
		if errors.Is(err, policy.ErrInvalidPolicy) {
			code = CLIExitInvalid
		}
		result.Error = err.Error()
		c.logger.Info("policy rejected", "file", path, "error", err)
	} else {
		result.Valid = true
		for _, ts := range f.Types {
			result.Types = append(result.Types, ts.Name)
		}
		c.logger.Debug("policy validated", "file", path, "types", len(f.Types))
	}

	if c.jsonOut {
		if jerr := outputJSON(w, result); jerr != nil {
			return withCode(CLIExitError, fmt.Errorf("failed to encode JSON: %w", jerr))
		}
	} else if result.Valid {
		fmt.Fprintf(w, "OK: %s (%d types, %s)\n", path, len(result.Types), result.Hash)
	} else {
		fmt.Fprintf(w, "INVALID: %s: %s\n", path, result.Error)
	}

	if err != nil {
		return withCode(code, err)
	}
	return nil
}

// watchPolicy validates path again on every change until ctx is done.
// The parent directory is watched so that editors replacing the file are
// seen too.
func (c *cli) watchPolicy(ctx context.Context, w io.Writer, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return withCode(CLIExitError, fmt.Errorf("failed to create watcher: %w", err))
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return withCode(CLIExitError, fmt.Errorf("failed to watch %s: %w", path, err))
	}
	c.logger.Info("watching policy", "file", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Results are reported on w; the watch keeps going either way.
			_ = c.validateOnce(w, path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watcher error", "file", target, "error", err)
		}
	}
}

// =============================================================================
// POLICY VERIFY COMMAND
// =============================================================================

// verifyPolicy prints the SHA256 fingerprint of a policy file. The file is
// not parsed.
func (c *cli) verifyPolicy(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := policy.ReadFile(path)
	if err != nil {
		return withCode(CLIExitError, err)
	}
	hash := "sha256:" + policy.Fingerprint(data)
	out := cmd.OutOrStdout()

	if c.jsonOut {
		result := PolicyVerifyResult{File: path, Hash: hash, ByteSize: len(data)}
		if err := outputJSON(out, result); err != nil {
			return withCode(CLIExitError, fmt.Errorf("failed to encode JSON: %w", err))
		}
		return nil
	}

	fmt.Fprintln(out, "--- Policy Verification ---")
	fmt.Fprintf(out, "File: %s\n", path)
	fmt.Fprintf(out, "Policy byte size: %d bytes\n", len(data))
	fmt.Fprintf(out, "SHA256 Fingerprint: %s\n", hash)
	fmt.Fprintln(out, "---------------------------")
	return nil
}

// =============================================================================
// POLICY DUMP COMMAND
// =============================================================================

// dumpPolicy prints a valid policy in normalized YAML, or JSON with --json.
func (c *cli) dumpPolicy(cmd *cobra.Command, args []string) error {
	f, err := policy.LoadFile(args[0])
	if err != nil {
		if errors.Is(err, policy.ErrInvalidPolicy) {
			return withCode(CLIExitInvalid, err)
		}
		return withCode(CLIExitError, err)
	}

	out := cmd.OutOrStdout()
	if c.jsonOut {
		if err := outputJSON(out, f); err != nil {
			return withCode(CLIExitError, fmt.Errorf("failed to encode JSON: %w", err))
		}
		return nil
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return withCode(CLIExitError, fmt.Errorf("failed to encode YAML: %w", err))
	}
	return enc.Close()
}

// policyExample returns the embedded example policy.
func policyExample() []byte { return policy.Example }
