/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "waverengine",
	Short: "Waver playback engine",
	Long: `waverengine is the headless playback engine: it decodes, analyzes and
mixes tracks from registered sources and exposes the result over a
loopback wire protocol for a UI process to drive.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
