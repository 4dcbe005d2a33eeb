// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics implements the reconciler's metrics bookkeeping: a
// Prometheus-backed Recorder of counters, gauges, and a sync-duration
// histogram, plus a periodic log-line summary.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/banctl/internal/logging"
)

// Component tags the errors_total counter's label.
type Component string

const (
	ComponentLAPI    Component = "lapi"
	ComponentSIEM    Component = "siem"
	ComponentCluster Component = "cluster"
	ComponentLocal   Component = "local"
)

// Recorder owns banctl's process-wide counters and gauges. Every operation
// is total and infallible, matching the reconciler's single-writer model.
type Recorder struct {
	registry *prometheus.Registry

	bansTotal           prometheus.Counter
	unbansTotal         prometheus.Counter
	lapiDecisionsTotal  prometheus.Counter
	siemAlertsTotal     prometheus.Counter
	clusterAPICallsTotal prometheus.Counter
	localOpsTotal       prometheus.Counter
	errorsTotal         *prometheus.CounterVec
	banDecisionsByCountry *prometheus.CounterVec

	currentlyBanned       prometheus.Gauge
	lastSyncDuration      prometheus.Gauge
	lastSyncTimestamp     prometheus.Gauge
	syncDurationHistogram prometheus.Histogram

	log *logging.Logger
}

// NewRecorder builds a Recorder and registers its metrics on a private
// registry, reachable through Registry so an HTTP handler can expose it.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		bansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "banctl_bans_total",
			Help: "Total number of IPs added to enforcement across all adapters.",
		}),
		unbansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "banctl_unbans_total",
			Help: "Total number of IPs removed from enforcement across all adapters.",
		}),
		lapiDecisionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "banctl_lapi_decisions_total",
			Help: "Total number of raw decisions observed from the LAPI adapter.",
		}),
		siemAlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "banctl_siem_alerts_total",
			Help: "Total number of alert-derived actions considered from the SIEM adapter.",
		}),
		clusterAPICallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "banctl_cluster_api_calls_total",
			Help: "Total number of bulk_update calls issued to the cluster sink.",
		}),
		localOpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "banctl_local_ops_total",
			Help: "Total number of add/remove calls issued to the local sink.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "banctl_errors_total",
			Help: "Total number of errors observed, by component.",
		}, []string{"component"}),
		banDecisionsByCountry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "banctl_ban_decisions_by_country_total",
			Help: "Total number of ban decisions, labeled by GeoIP country when enrichment is enabled.",
		}, []string{"country"}),
		currentlyBanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "banctl_currently_banned",
			Help: "Current number of IPs in the local enforcement set.",
		}),
		lastSyncDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "banctl_last_sync_duration_seconds",
			Help: "Duration of the most recently completed reconciliation tick.",
		}),
		lastSyncTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "banctl_last_sync_timestamp",
			Help: "Unix timestamp of the most recently completed reconciliation tick.",
		}),
		syncDurationHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "banctl_sync_duration_seconds",
			Help:    "Distribution of reconciliation tick durations.",
			Buckets: []float64{1, 5, 10},
		}),
		log: logging.Default().WithComponent("metrics"),
	}

	reg.MustRegister(
		r.bansTotal, r.unbansTotal, r.lapiDecisionsTotal, r.siemAlertsTotal,
		r.clusterAPICallsTotal, r.localOpsTotal, r.errorsTotal, r.banDecisionsByCountry,
		r.currentlyBanned, r.lastSyncDuration, r.lastSyncTimestamp,
		r.syncDurationHistogram,
	)

	return r
}

// Registry returns the Prometheus registry backing this Recorder, for
// wiring into an HTTP exposition handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) RecordBan()             { r.bansTotal.Inc() }
func (r *Recorder) RecordUnban()           { r.unbansTotal.Inc() }
func (r *Recorder) RecordLAPIDecision()    { r.lapiDecisionsTotal.Inc() }
func (r *Recorder) RecordSIEMAlert()       { r.siemAlertsTotal.Inc() }
func (r *Recorder) RecordClusterAPICall()  { r.clusterAPICallsTotal.Inc() }
func (r *Recorder) RecordLocalOp()         { r.localOpsTotal.Inc() }

// RecordError increments errors_total{component}.
func (r *Recorder) RecordError(component Component) {
	r.errorsTotal.WithLabelValues(string(component)).Inc()
}

// RecordBanByCountry increments ban_decisions_by_country_total{country}.
// Purely observational: it never influences enforcement decisions.
func (r *Recorder) RecordBanByCountry(country string) {
	if country == "" {
		return
	}
	r.banDecisionsByCountry.WithLabelValues(country).Inc()
}

// UpdateCurrentlyBanned sets the currently_banned gauge to n.
func (r *Recorder) UpdateCurrentlyBanned(n int) {
	r.currentlyBanned.Set(float64(n))
}

// RecordSyncDuration records one tick's duration in the histogram and
// refreshes the last_sync_* gauges. timestampUnix should be the tick's
// completion time.
func (r *Recorder) RecordSyncDuration(seconds float64, timestampUnix float64) {
	r.syncDurationHistogram.Observe(seconds)
	r.lastSyncDuration.Set(seconds)
	r.lastSyncTimestamp.Set(timestampUnix)
}

// LogSummary emits a one-line summary of the current counters through the
// structured logger. The reconciler calls this every Nth tick.
func (r *Recorder) LogSummary() {
	r.log.Info("metrics summary",
		"bans_total", intValue(r.bansTotal),
		"unbans_total", intValue(r.unbansTotal),
		"lapi_decisions_total", intValue(r.lapiDecisionsTotal),
		"siem_alerts_total", intValue(r.siemAlertsTotal),
		"cluster_api_calls_total", intValue(r.clusterAPICallsTotal),
		"local_ops_total", intValue(r.localOpsTotal),
		"currently_banned", gaugeValue(r.currentlyBanned),
		"last_sync_duration_seconds", gaugeValue(r.lastSyncDuration),
	)
}

func intValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
