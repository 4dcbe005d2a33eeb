// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reconciler drives the ban-decision reconciliation loop: a single
// cooperative task that polls the configured source adapters, filters
// through the whitelist, and projects the result onto the configured
// enforcement sinks.
package reconciler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/banctl/internal/clock"
	"grimm.is/banctl/internal/decision"
	"grimm.is/banctl/internal/logging"
	"grimm.is/banctl/internal/metrics"
	"grimm.is/banctl/internal/source/lapi"
	"grimm.is/banctl/internal/source/siem"
)

const loopQuantum = 1 * time.Second

// LAPISource is the subset of the LAPI adapter the reconciler depends on.
type LAPISource interface {
	GetDecisions(ctx context.Context, startup bool) (lapi.Decisions, error)
	TestConnection(ctx context.Context) error
}

// SIEMSource is the subset of the SIEM adapter the reconciler depends on.
type SIEMSource interface {
	GetAlerts(ctx context.Context, since *time.Time, limit int) ([]siem.Alert, error)
	TestConnection(ctx context.Context) error
}

// ClusterSink is the subset of the cluster sink the reconciler depends on.
// BulkUpdate reports the number of non-coalesced per-IP failures it
// swallowed internally, so the caller can still account each one.
type ClusterSink interface {
	BulkUpdate(ctx context.Context, name string, adds, removes []string) (failures int, err error)
	TestConnection(ctx context.Context) error
}

// LocalSink is the subset of the local sink the reconciler depends on.
type LocalSink interface {
	Add(ip string) error
	Remove(ip string) error
	List() ([]string, error)
}

// GeoLookup is the subset of geoip.Lookup the reconciler depends on. It is
// purely observational: a nil GeoLookup never affects enforcement.
type GeoLookup interface {
	Country(ip string) (string, bool)
}

// Config carries the reconciler's tuning knobs, distinct from the
// top-level daemon configuration.
type Config struct {
	SyncInterval      time.Duration
	ClusterSetName    string
	MetricsSummaryEvery int
}

// Reconciler drives the tick loop over whichever adapters and sinks are
// configured; any of them may be nil to model a disabled collaborator.
type Reconciler struct {
	cfg Config

	lapi    LAPISource
	siem    SIEMSource
	cluster ClusterSink
	local   LocalSink
	geo     GeoLookup

	whitelist decision.Whitelist
	metrics   *metrics.Recorder
	log       *logging.Logger

	onTick func(*decision.SyncTick)

	tickMu        sync.Mutex
	lastSync      time.Time
	tickNum       int
	lapiStartedUp bool
}

// New builds a Reconciler. lapiSrc, siemSrc, cluster, local, and geo may
// each be nil to disable that collaborator.
func New(cfg Config, lapiSrc LAPISource, siemSrc SIEMSource, cluster ClusterSink, local LocalSink,
	geo GeoLookup, whitelist decision.Whitelist, rec *metrics.Recorder) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		lapi:      lapiSrc,
		siem:      siemSrc,
		cluster:   cluster,
		local:     local,
		geo:       geo,
		whitelist: whitelist,
		metrics:   rec,
		log:       logging.Default().WithComponent("reconciler"),
	}
}

// SetTickObserver registers fn to be called with the completed tick after
// every runTick, for an operator-facing live feed. A nil fn disables the
// observer (the default).
func (r *Reconciler) SetTickObserver(fn func(*decision.SyncTick)) {
	r.onTick = fn
}

// recordBan accounts a retained ban decision and its optional GeoIP
// country tag; it never affects whether the IP is enforced.
func (r *Reconciler) recordBan(ip string) {
	r.metrics.RecordBan()
	if r.geo == nil {
		return
	}
	if country, ok := r.geo.Country(ip); ok {
		r.metrics.RecordBanByCountry(country)
	}
}

// TestConnections probes every configured collaborator at startup. A
// cluster sink failure is fatal; LAPI and SIEM failures are best-effort.
func (r *Reconciler) TestConnections(ctx context.Context) error {
	if r.cluster != nil {
		if err := r.cluster.TestConnection(ctx); err != nil {
			return err
		}
	}
	if r.lapi != nil {
		if err := r.lapi.TestConnection(ctx); err != nil {
			r.log.WithError(err).Warn("lapi startup probe failed")
		}
	}
	if r.siem != nil {
		if err := r.siem.TestConnection(ctx); err != nil {
			r.log.WithError(err).Warn("siem startup probe failed")
		}
	}
	return nil
}

// Run drives the 1-second polling loop until ctx is cancelled. Cancellation
// is observed at the next loop quantum, never mid-tick.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.tickMu.Lock()
		if r.lastSync.IsZero() || clock.Since(r.lastSync) >= r.cfg.SyncInterval {
			r.runTick(ctx)
			r.lastSync = clock.Now()
		}
		r.tickMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(loopQuantum):
		}
	}
}

// ForceSync runs a single reconciliation tick immediately, outside the
// regular polling cadence, and resets the cadence clock. Safe to call
// concurrently with Run's own ticking; ticks are serialized on tickMu, so
// an operator-triggered ForceSync racing the loop's own tick can in the
// rare case run back-to-back rather than strictly replacing one.
func (r *Reconciler) ForceSync(ctx context.Context) {
	r.log.Info("force-sync triggered")
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	r.runTick(ctx)
	r.lastSync = clock.Now()
}

// runTick executes exactly one reconciliation tick.
func (r *Reconciler) runTick(ctx context.Context) {
	tick := decision.NewSyncTick(clock.Now())
	r.tickNum++

	if r.lapi != nil {
		r.pollLAPI(ctx, tick)
	}
	if r.siem != nil {
		r.pollSIEM(ctx, tick)
	}

	// to_ban/to_unban accumulation is complete by this point; the cluster
	// and local sinks are independent collaborators, so the two writes
	// fan out concurrently (spec allows any ordering between planes, only
	// within-plane ordering is guaranteed).
	var g errgroup.Group

	if r.cluster != nil && (len(tick.ToBan) > 0 || len(tick.ToUnban) > 0) {
		g.Go(func() error {
			r.metrics.RecordClusterAPICall()
			failures, err := r.cluster.BulkUpdate(ctx, r.cfg.ClusterSetName, tick.ToBan, tick.ToUnban)
			for i := 0; i < failures; i++ {
				r.metrics.RecordError(metrics.ComponentCluster)
			}
			if err != nil {
				r.metrics.RecordError(metrics.ComponentCluster)
				tick.RecordAdapterError("cluster", err)
			}
			return nil
		})
	}

	if r.local != nil {
		g.Go(func() error {
			for _, ip := range tick.ToBan {
				r.metrics.RecordLocalOp()
				if err := r.local.Add(ip); err != nil {
					r.metrics.RecordError(metrics.ComponentLocal)
					r.log.WithError(err).Warn("local add failed", "ip", ip)
				}
			}
			for _, ip := range tick.ToUnban {
				r.metrics.RecordLocalOp()
				if err := r.local.Remove(ip); err != nil {
					r.metrics.RecordError(metrics.ComponentLocal)
					r.log.WithError(err).Warn("local remove failed", "ip", ip)
				}
			}

			if current, err := r.local.List(); err != nil {
				r.metrics.RecordError(metrics.ComponentLocal)
				r.log.WithError(err).Warn("failed to refresh currently_banned")
			} else {
				r.metrics.UpdateCurrentlyBanned(len(current))
			}
			return nil
		})
	}

	g.Wait()

	finishedAt := clock.Now()
	tick.Finish(finishedAt)
	r.metrics.RecordSyncDuration(tick.Duration().Seconds(), float64(finishedAt.Unix()))

	if r.cfg.MetricsSummaryEvery > 0 && r.tickNum%r.cfg.MetricsSummaryEvery == 0 {
		r.metrics.LogSummary()
	}

	if r.onTick != nil {
		r.onTick(tick)
	}
}

func (r *Reconciler) pollLAPI(ctx context.Context, tick *decision.SyncTick) {
	startup := !r.lapiStartedUp
	decisions, err := r.lapi.GetDecisions(ctx, startup)
	r.lapiStartedUp = true
	if err != nil {
		r.metrics.RecordError(metrics.ComponentLAPI)
		tick.RecordAdapterError(decision.OriginLAPI, err)
		return
	}

	for _, d := range decisions.New {
		r.metrics.RecordLAPIDecision()
		if !decision.ValidIPv4(d.IP) || r.whitelist.Contains(d.IP) {
			continue
		}
		tick.AddBan(d.IP)
		r.recordBan(d.IP)
	}
	for _, d := range decisions.Deleted {
		r.metrics.RecordLAPIDecision()
		if !decision.ValidIPv4(d.IP) || r.whitelist.Contains(d.IP) {
			continue
		}
		tick.AddUnban(d.IP)
		r.metrics.RecordUnban()
	}
}

func (r *Reconciler) pollSIEM(ctx context.Context, tick *decision.SyncTick) {
	alerts, err := r.siem.GetAlerts(ctx, nil, 100)
	if err != nil {
		r.metrics.RecordError(metrics.ComponentSIEM)
		tick.RecordAdapterError(decision.OriginSIEM, err)
		return
	}

	for _, action := range siem.ToActions(alerts) {
		r.metrics.RecordSIEMAlert()
		if !decision.ValidIPv4(action.IP) || r.whitelist.Contains(action.IP) {
			continue
		}
		switch action.Kind {
		case decision.KindBan:
			tick.AddBan(action.IP)
			r.recordBan(action.IP)
		case decision.KindAllow:
			tick.AddUnban(action.IP)
			r.metrics.RecordUnban()
		case decision.KindMonitor:
			r.log.Debug("siem alert monitored only", "ip", action.IP)
		}
	}
}
