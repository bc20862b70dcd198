/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package config loads the engine's process-level configuration from
// environment variables into an explicit struct, replacing the global
// state (TCP port constant, settings directory) flagged in spec.md §9.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineConfig covers everything the playback engine needs at startup.
type EngineConfig struct {
	Environment string

	// Wire protocol (spec.md §6): raw TCP, 0x1E-framed, loopback only.
	IPCBind string
	IPCPort int

	// Diagnostics HTTP surface, separate from the TCP wire protocol.
	DiagnosticsBind string
	DiagnosticsPort int

	MetricsBind string

	// Local filesystem source root.
	MediaRoot string

	// Network source tuning (spec.md §4.3).
	NetworkConnectTimeout  time.Duration
	NetworkPreCacheTimeout time.Duration
	NetworkUnderrunTimeout time.Duration
	NetworkMaxRedirects    int

	// Coordinator scheduling policy (spec.md §4.1).
	LowQueueThreshold     int
	LocalSourcePreference time.Duration
	GiveUpAfterN          int

	// CastSyntheticDurationMs seeds a cast Track's cast_playtime_remaining_ms
	// (spec.md §3): a live stream has no real duration, so this stands in
	// for one when UIs or diagnostics expect a countdown.
	CastSyntheticDurationMs int64

	// Output device selection; empty uses the portaudio default device.
	OutputDevice string
}

// Load reads environment variables, applies defaults, and validates the
// result, following the same getEnvAny/getEnvIntAny helper pattern as the
// teacher's internal/config.Config.
func Load() (*EngineConfig, error) {
	cfg := &EngineConfig{
		Environment: getEnvAny([]string{"WAVER_ENV"}, "development"),

		IPCBind: getEnvAny([]string{"WAVER_IPC_BIND"}, "127.0.0.1"),
		IPCPort: getEnvIntAny([]string{"WAVER_IPC_PORT"}, 17400),

		DiagnosticsBind: getEnvAny([]string{"WAVER_DIAGNOSTICS_BIND"}, "127.0.0.1"),
		DiagnosticsPort: getEnvIntAny([]string{"WAVER_DIAGNOSTICS_PORT"}, 17401),

		MetricsBind: getEnvAny([]string{"WAVER_METRICS_BIND"}, "127.0.0.1:17402"),

		MediaRoot: getEnvAny([]string{"WAVER_MEDIA_ROOT"}, "."),

		NetworkConnectTimeout:  time.Duration(getEnvIntAny([]string{"WAVER_NETWORK_CONNECT_TIMEOUT_MS"}, 7500)) * time.Millisecond,
		NetworkPreCacheTimeout: time.Duration(getEnvIntAny([]string{"WAVER_NETWORK_PRECACHE_TIMEOUT_MS"}, 15000)) * time.Millisecond,
		NetworkUnderrunTimeout: time.Duration(getEnvIntAny([]string{"WAVER_NETWORK_UNDERRUN_TIMEOUT_MS"}, 5000)) * time.Millisecond,
		NetworkMaxRedirects:    getEnvIntAny([]string{"WAVER_NETWORK_MAX_REDIRECTS"}, 12),

		LowQueueThreshold:     getEnvIntAny([]string{"WAVER_LOW_QUEUE_THRESHOLD"}, 2),
		LocalSourcePreference: time.Duration(getEnvIntAny([]string{"WAVER_LOCAL_SOURCE_PREFERENCE_MS"}, 1500)) * time.Millisecond,
		GiveUpAfterN:          getEnvIntAny([]string{"WAVER_GIVE_UP_AFTER_N"}, 4),

		CastSyntheticDurationMs: int64(getEnvIntAny([]string{"WAVER_CAST_SYNTHETIC_DURATION_MS"}, 4*60*60*1000)),

		OutputDevice: getEnvAny([]string{"WAVER_OUTPUT_DEVICE"}, ""),
	}

	if cfg.IPCPort <= 0 || cfg.IPCPort > 65535 {
		return nil, fmt.Errorf("invalid WAVER_IPC_PORT %d", cfg.IPCPort)
	}
	if cfg.GiveUpAfterN <= 0 {
		return nil, fmt.Errorf("WAVER_GIVE_UP_AFTER_N must be positive")
	}
	if cfg.NetworkMaxRedirects < 0 {
		return nil, fmt.Errorf("WAVER_NETWORK_MAX_REDIRECTS must not be negative")
	}

	return cfg, nil
}

func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}
