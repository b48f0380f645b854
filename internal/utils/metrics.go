// internal/utils/metrics.go
package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var GenerationTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "voice2sop",
	Subsystem: "generation",
	Name:      "request_seconds",
	Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160},
}, []string{"provider"})

var GenerationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voice2sop",
	Subsystem: "generation",
	Name:      "errors_total",
}, []string{"err_code"})

var GenerationTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voice2sop",
	Subsystem: "generation",
	Name:      "tokens_total",
}, []string{"provider"})

// SplitFallbacks counts model answers that did not carry all three section markers.
var SplitFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "voice2sop",
	Subsystem: "splitter",
	Name:      "fallbacks_total",
})

var Exports = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voice2sop",
	Subsystem: "export",
	Name:      "artifacts_total",
}, []string{"format"})

var ExportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voice2sop",
	Subsystem: "export",
	Name:      "errors_total",
}, []string{"format"})

// SubstitutedRunes counts characters replaced while encoding PDF text.
var SubstitutedRunes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "voice2sop",
	Subsystem: "export",
	Name:      "substituted_runes_total",
})

var CachedResults = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "voice2sop",
	Subsystem: "cache",
	Name:      "results",
})

var WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "voice2sop",
	Subsystem: "api",
	Name:      "websocket_conns",
})
