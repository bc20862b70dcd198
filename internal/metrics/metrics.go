/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package metrics exposes the engine's Prometheus instrumentation: buffer
// underruns, output position, pipeline restarts and buffer refcount depth.
// The teacher's go.mod carries prometheus/client_golang for exactly this
// purpose; its own internal/telemetry wires only a placeholder handler, so
// this package is the first real consumer of that dependency in the
// retrieval pack.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BufferUnderruns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "waver",
		Name:      "buffer_underruns_total",
		Help:      "Output buffer underruns per track.",
	}, []string{"track_id"})

	OutputPositionUs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "waver",
		Name:      "output_position_microseconds",
		Help:      "Main output position within the current track, in microseconds.",
	}, []string{"track_id"})

	PipelineRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "waver",
		Name:      "pipeline_restarts_total",
		Help:      "Track pipeline restarts, labeled by reason.",
	}, []string{"reason"})

	BufferRefcount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "waver",
		Name:      "buffer_refcount",
		Help:      "Current fan-out refcount of the in-flight output buffer.",
	}, []string{"track_id"})

	DecodedDurationMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "waver",
		Name:      "decoded_duration_milliseconds",
		Help:      "Cumulative decoded duration for the current track.",
	}, []string{"track_id"})

	ReplayGainTargetDb = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "waver",
		Name:      "replaygain_target_db",
		Help:      "Latest ReplayGain target published by the pre-DSP analyzer.",
	}, []string{"track_id"})
)

// Handler returns the standard promhttp handler for mounting on the
// diagnostics HTTP surface.
func Handler() http.Handler {
	return promhttp.Handler()
}
