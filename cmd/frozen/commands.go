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
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/frozen/pkg/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// cli holds flag values and shared state for one command tree.
type cli struct {
	logLevel  string
	logDir    string
	logFormat string
	jsonOut   bool
	watch     bool
	logger    *logging.Logger
}

// newRootCmd builds the command tree. Each call returns an independent
// tree so tests can run commands side by side.
func newRootCmd() *cobra.Command {
	c := &cli{logger: logging.Discard()}

	rootCmd := &cobra.Command{
		Use:   "frozen",
		Short: "Inspect and validate aspect policies",
		Long: `frozen works with the YAML policies that configure freezable, lockable
and alienatable types.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(c.logLevel)
			if err != nil {
				return withCode(CLIExitError, err)
			}
			jsonLogs, err := useJSONLogs(c.logFormat, cmd.ErrOrStderr())
			if err != nil {
				return withCode(CLIExitError, err)
			}
			c.logger = logging.New(logging.Config{
				Level:   level,
				Output:  cmd.ErrOrStderr(),
				LogDir:  c.logDir,
				Service: "frozen",
				JSON:    jsonLogs,
			})
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.logger.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&c.logDir, "log-dir", "", "also write JSON logs to this directory")
	rootCmd.PersistentFlags().StringVar(&c.logFormat, "log-format", "auto", "console log format (auto, text, json)")

	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with policy files",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a policy file",
		Long: `Parses the policy strictly and validates it. With --watch the file is
validated again whenever it changes, until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: c.validatePolicy,
	}
	validateCmd.Flags().BoolVar(&c.jsonOut, "json", false, "output as JSON")
	validateCmd.Flags().BoolVar(&c.watch, "watch", false, "validate again on every change")

	verifyCmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Print the SHA256 fingerprint of a policy file",
		Args:  cobra.ExactArgs(1),
		RunE:  c.verifyPolicy,
	}
	verifyCmd.Flags().BoolVar(&c.jsonOut, "json", false, "output as JSON")

	dumpCmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print a policy file in normalized form",
		Args:  cobra.ExactArgs(1),
		RunE:  c.dumpPolicy,
	}
	dumpCmd.Flags().BoolVar(&c.jsonOut, "json", false, "output as JSON")

	exampleCmd := &cobra.Command{
		Use:   "example",
		Short: "Print an example policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(policyExample())
			return err
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "frozen %s\n", Version)
		},
	}

	policyCmd.AddCommand(validateCmd, verifyCmd, dumpCmd, exampleCmd)
	rootCmd.AddCommand(policyCmd, versionCmd)
	return rootCmd
}

// useJSONLogs resolves the console log format. "auto" picks text on a
// terminal and JSON otherwise.
func useJSONLogs(format string, w io.Writer) (bool, error) {
	switch format {
	case "text":
		return false, nil
	case "json":
		return true, nil
	case "auto", "":
		f, ok := w.(*os.File)
		return !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())), nil
	}
	return false, fmt.Errorf("unknown log format %q", format)
}
