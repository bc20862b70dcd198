/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/friendsincode/waver/internal/config"
	"github.com/spf13/cobra"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Fetch /diagnostics from a running engine's HTTP surface",
	RunE:  runDiagnostics,
}

func init() {
	rootCmd.AddCommand(diagnosticsCmd)
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d/diagnostics", cfg.DiagnosticsBind, cfg.DiagnosticsPort)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr)
	if err != nil {
		return fmt.Errorf("fetch diagnostics: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read diagnostics response: %w", err)
	}

	cmd.Println(string(body))
	return nil
}
