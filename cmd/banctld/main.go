// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command banctld is the resident ban-decision reconciler daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/banctl/internal/config"
	"grimm.is/banctl/internal/decision"
	"grimm.is/banctl/internal/geoip"
	"grimm.is/banctl/internal/httpapi"
	"grimm.is/banctl/internal/logging"
	"grimm.is/banctl/internal/metrics"
	"grimm.is/banctl/internal/reconciler"
	"grimm.is/banctl/internal/sink/cluster"
	"grimm.is/banctl/internal/sink/local"
	"grimm.is/banctl/internal/source/lapi"
	"grimm.is/banctl/internal/source/siem"
)

func main() {
	configPath := flag.String("config", "/etc/banctl/banctl.hcl", "path to the HCL configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logging.SetDefault(logging.New(logging.Config{
		Output: os.Stdout,
		Level:  logging.ParseLevel(*logLevel),
	}))
	log := logging.Default().WithComponent("banctld")

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "banctld: %v\n", err)
		os.Exit(1)
	}

	rec := metrics.NewRecorder()
	whitelist := decision.NewWhitelist(cfg.Whitelist)

	var lapiAdapter *lapi.Adapter
	if cfg.LAPI != nil {
		key, err := config.ResolveSecret(cfg.LAPI.APIKeyEnv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "banctld: %v\n", err)
			os.Exit(1)
		}
		lapiAdapter = lapi.New(cfg.LAPI.URL, key, "", nil)
	}

	var siemAdapter *siem.Adapter
	if cfg.SIEM != nil {
		password, err := config.ResolveSecret(cfg.SIEM.PasswordEnv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "banctld: %v\n", err)
			os.Exit(1)
		}
		siemAdapter = siem.New(cfg.SIEM.URL, cfg.SIEM.Username, password, nil)
	}

	var clusterSink *cluster.Sink
	clusterSetName := ""
	if cfg.ClusterSink != nil {
		secret, err := config.ResolveSecret(cfg.ClusterSink.TokenSecretEnv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "banctld: %v\n", err)
			os.Exit(1)
		}
		clusterSink = cluster.New(cfg.ClusterSink.BaseURL, cfg.ClusterSink.SetName,
			cfg.ClusterSink.TokenID, secret, cfg.ClusterSink.TLSInsecure)
		clusterSetName = cfg.ClusterSink.SetName
	}

	var localSink *local.Sink
	if cfg.LocalSink != nil && cfg.LocalSink.Enabled {
		localSink, err = local.New(cfg.LocalSink.Table, cfg.LocalSink.Chain, cfg.LocalSink.Set)
		if err != nil {
			log.WithError(err).Error("failed to initialize local sink")
			os.Exit(1)
		}
	}

	var geoLookup *geoip.Reader
	if cfg.GeoIP != nil {
		geoLookup, err = geoip.Open(cfg.GeoIP.DatabasePath)
		if err != nil {
			log.WithError(err).Warn("failed to open geoip database, enrichment disabled")
			geoLookup = nil
		}
	}

	syncInterval := time.Duration(cfg.SyncIntervalSeconds) * time.Second

	rc := reconciler.New(
		reconciler.Config{
			SyncInterval:        syncInterval,
			ClusterSetName:      clusterSetName,
			MetricsSummaryEvery: cfg.MetricsSummaryEvery,
		},
		lapiOrNil(lapiAdapter), siemOrNil(siemAdapter),
		sinkOrNil(clusterSink), localSinkOrNil(localSink), geoOrNil(geoLookup),
		whitelist, rec,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rc.TestConnections(ctx); err != nil {
		log.WithError(err).Error("startup connectivity check failed")
		os.Exit(1)
	}

	var apiServer *httpapi.Server
	if cfg.HTTPAPI != nil {
		apiServer = httpapi.New(cfg.HTTPAPI.ListenAddress, rec, whitelist, rc.ForceSync)
		rc.SetTickObserver(func(tick *decision.SyncTick) {
			errs := make([]string, 0, len(tick.AdapterErrors))
			for origin, err := range tick.AdapterErrors {
				errs = append(errs, fmt.Sprintf("%s: %v", origin, err))
			}
			apiServer.BroadcastTick(httpapi.TickSummary{
				StartedAt:     tick.StartedAt,
				FinishedAt:    tick.FinishedAt,
				ToBanCount:    len(tick.ToBan),
				ToUnbanCount:  len(tick.ToUnban),
				AdapterErrors: errs,
			})
		})
		apiServer.Start()
	}

	log.Info("banctld starting", "sync_interval", syncInterval.String())
	rc.Run(ctx)

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("httpapi shutdown error")
		}
	}
	if geoLookup != nil {
		_ = geoLookup.Close()
	}
	log.Info("banctld stopped")
}

// lapiOrNil, siemOrNil, sinkOrNil, localSinkOrNil, and geoOrNil avoid the
// classic Go typed-nil-interface trap: a nil *lapi.Adapter wrapped
// directly in a reconciler.LAPISource would compare non-nil.
func lapiOrNil(a *lapi.Adapter) reconciler.LAPISource {
	if a == nil {
		return nil
	}
	return a
}

func siemOrNil(a *siem.Adapter) reconciler.SIEMSource {
	if a == nil {
		return nil
	}
	return a
}

func sinkOrNil(s *cluster.Sink) reconciler.ClusterSink {
	if s == nil {
		return nil
	}
	return s
}

func localSinkOrNil(s *local.Sink) reconciler.LocalSink {
	if s == nil {
		return nil
	}
	return s
}

func geoOrNil(g *geoip.Reader) reconciler.GeoLookup {
	if g == nil {
		return nil
	}
	return g
}
