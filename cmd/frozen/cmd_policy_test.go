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
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frozen/pkg/policy"
)

const validPolicy = `version: 1
types:
  - name: example.com/bank.Account
    freezable: {let_melt: true}
`

const invalidPolicy = `version: 1
types:
  - name: Account
`

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestValidate_Valid(t *testing.T) {
	path := writePolicy(t, validPolicy)
	code, out, _ := runCLI(t, "policy", "validate", path)
	assert.Equal(t, CLIExitSuccess, code)
	assert.Contains(t, out, "OK: "+path)
	assert.Contains(t, out, "1 types")
	assert.Contains(t, out, "sha256:"+policy.Fingerprint([]byte(validPolicy)))
}

func TestValidate_Invalid(t *testing.T) {
	path := writePolicy(t, invalidPolicy)
	code, out, errOut := runCLI(t, "policy", "validate", path)
	assert.Equal(t, CLIExitInvalid, code)
	assert.Contains(t, out, "INVALID: "+path)
	assert.Contains(t, errOut, "invalid policy")
}

func TestValidate_JSON(t *testing.T) {
	path := writePolicy(t, validPolicy)
	code, out, _ := runCLI(t, "policy", "validate", "--json", path)
	require.Equal(t, CLIExitSuccess, code)

	var result PolicyValidateResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"example.com/bank.Account"}, result.Types)
	assert.Empty(t, result.Error)

	bad := writePolicy(t, invalidPolicy)
	code, out, _ = runCLI(t, "policy", "validate", "--json", bad)
	require.Equal(t, CLIExitInvalid, code)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "typename")
}

func TestValidate_MissingFile(t *testing.T) {
	code, _, errOut := runCLI(t, "policy", "validate", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Equal(t, CLIExitError, code)
	assert.Contains(t, errOut, "failed to open policy")
}

func TestValidate_Watch(t *testing.T) {
	path := writePolicy(t, validPolicy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"policy", "validate", "--watch", path}, &stdout, &stderr)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "OK: ")
	}, 5*time.Second, 20*time.Millisecond)

	// The watcher may not be registered yet, so keep rewriting until the
	// change is reported.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(invalidPolicy), 0o600)
		return strings.Contains(stdout.String(), "INVALID: ")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, CLIExitSuccess, code)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestVerify(t *testing.T) {
	path := writePolicy(t, validPolicy)
	code, out, _ := runCLI(t, "policy", "verify", path)
	require.Equal(t, CLIExitSuccess, code)
	assert.Contains(t, out, "SHA256 Fingerprint: sha256:"+policy.Fingerprint([]byte(validPolicy)))
	assert.NotContains(t, out, "%x")

	code, out, _ = runCLI(t, "policy", "verify", "--json", path)
	require.Equal(t, CLIExitSuccess, code)
	var result PolicyVerifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, len(validPolicy), result.ByteSize)

	// verify fingerprints bytes; it does not parse them.
	bad := writePolicy(t, invalidPolicy)
	code, _, _ = runCLI(t, "policy", "verify", bad)
	assert.Equal(t, CLIExitSuccess, code)
}

func TestDump(t *testing.T) {
	path := writePolicy(t, validPolicy)
	code, out, _ := runCLI(t, "policy", "dump", path)
	require.Equal(t, CLIExitSuccess, code)
	again, err := policy.Parse([]byte(out))
	require.NoError(t, err, "dumped YAML parses")
	assert.Equal(t, "example.com/bank.Account", again.Types[0].Name)

	code, out, _ = runCLI(t, "policy", "dump", "--json", path)
	require.Equal(t, CLIExitSuccess, code)
	var f policy.File
	require.NoError(t, json.Unmarshal([]byte(out), &f))
	require.NotNil(t, f.Types[0].Freezable)
	assert.True(t, *f.Types[0].Freezable.LetMelt)

	code, _, _ = runCLI(t, "policy", "dump", writePolicy(t, invalidPolicy))
	assert.Equal(t, CLIExitInvalid, code)
}

func TestExampleAndVersion(t *testing.T) {
	code, out, _ := runCLI(t, "policy", "example")
	require.Equal(t, CLIExitSuccess, code)
	_, err := policy.Parse([]byte(out))
	assert.NoError(t, err)

	code, out, _ = runCLI(t, "version")
	require.Equal(t, CLIExitSuccess, code)
	assert.Equal(t, "frozen dev\n", out)
}

func TestUsageErrors(t *testing.T) {
	code, _, _ := runCLI(t, "policy", "validate")
	assert.Equal(t, CLIExitError, code)

	code, _, errOut := runCLI(t, "--log-level", "loud", "version")
	assert.Equal(t, CLIExitError, code)
	assert.Contains(t, errOut, "unknown log level")
}

func TestLogDir(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, validPolicy)
	code, _, _ := runCLI(t, "--log-level", "debug", "--log-dir", dir, "policy", "validate", path)
	require.Equal(t, CLIExitSuccess, code)

	matches, err := filepath.Glob(filepath.Join(dir, "frozen_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"policy validated"`)
}

func TestLogFormat(t *testing.T) {
	path := writePolicy(t, validPolicy)

	code, _, errOut := runCLI(t, "--log-level", "debug", "--log-format", "text", "policy", "validate", path)
	require.Equal(t, CLIExitSuccess, code)
	assert.Contains(t, errOut, `msg="policy validated"`)

	code, _, errOut = runCLI(t, "--log-level", "debug", "policy", "validate", path)
	require.Equal(t, CLIExitSuccess, code)
	assert.Contains(t, errOut, `"msg":"policy validated"`, "non-terminal output defaults to JSON")

	code, _, errOut = runCLI(t, "--log-format", "xml", "version")
	assert.Equal(t, CLIExitError, code)
	assert.Contains(t, errOut, "unknown log format")
}
