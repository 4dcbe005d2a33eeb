// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/banctl/internal/decision"
	"grimm.is/banctl/internal/metrics"
	"grimm.is/banctl/internal/source/lapi"
	"grimm.is/banctl/internal/source/siem"
)

func errorsTotalFor(t *testing.T, rec *metrics.Recorder, component string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "banctl_errors_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "component" && l.GetValue() == component {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// metricValue returns the value of the named series, restricted to the one
// carrying label=value when label is non-empty.
func metricValue(t *testing.T, rec *metrics.Recorder, name, label, value string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			matched := label == ""
			for _, l := range m.GetLabel() {
				if l.GetName() == label && l.GetValue() == value {
					matched = true
				}
			}
			if !matched {
				continue
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

type fakeLAPI struct {
	decisions   lapi.Decisions
	err         error
	calls       int
	lastStartup bool
}

func (f *fakeLAPI) GetDecisions(ctx context.Context, startup bool) (lapi.Decisions, error) {
	f.calls++
	f.lastStartup = startup
	return f.decisions, f.err
}
func (f *fakeLAPI) TestConnection(ctx context.Context) error { return f.err }

type fakeSIEM struct {
	alerts []siem.Alert
	err    error
}

func (f *fakeSIEM) GetAlerts(ctx context.Context, since *time.Time, limit int) ([]siem.Alert, error) {
	return f.alerts, f.err
}
func (f *fakeSIEM) TestConnection(ctx context.Context) error { return f.err }

type fakeCluster struct {
	err             error
	failures        int
	testConnErr     error
	lastAdds        []string
	lastRemoves     []string
	bulkUpdateCalls int
}

func (f *fakeCluster) BulkUpdate(ctx context.Context, name string, adds, removes []string) (int, error) {
	f.bulkUpdateCalls++
	f.lastAdds = adds
	f.lastRemoves = removes
	return f.failures, f.err
}
func (f *fakeCluster) TestConnection(ctx context.Context) error { return f.testConnErr }

type fakeLocal struct {
	members map[string]struct{}
	addErr  error
}

func newFakeLocal() *fakeLocal { return &fakeLocal{members: map[string]struct{}{}} }

func (f *fakeLocal) Add(ip string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.members[ip] = struct{}{}
	return nil
}
func (f *fakeLocal) Remove(ip string) error {
	delete(f.members, ip)
	return nil
}
func (f *fakeLocal) List() ([]string, error) {
	out := make([]string, 0, len(f.members))
	for ip := range f.members {
		out = append(out, ip)
	}
	return out, nil
}

func newTestReconciler(l LAPISource, s SIEMSource, c ClusterSink, loc LocalSink, wl []string) *Reconciler {
	r, _ := newTestReconcilerWithMetrics(l, s, c, loc, wl)
	return r
}

func newTestReconcilerWithMetrics(l LAPISource, s SIEMSource, c ClusterSink, loc LocalSink, wl []string) (*Reconciler, *metrics.Recorder) {
	rec := metrics.NewRecorder()
	r := New(Config{SyncInterval: time.Second, ClusterSetName: "blocklist", MetricsSummaryEvery: 10},
		l, s, c, loc, nil, decision.NewWhitelist(wl), rec)
	return r, rec
}

func TestRunTickBansFromLAPIAndUpdatesSinks(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{New: []decision.Decision{{IP: "203.0.113.5", Kind: decision.KindBan}}}}
	c := &fakeCluster{}
	loc := newFakeLocal()

	r := newTestReconciler(l, nil, c, loc, nil)
	r.runTick(context.Background())

	require.Equal(t, []string{"203.0.113.5"}, c.lastAdds)
	require.Empty(t, c.lastRemoves)
	_, banned := loc.members["203.0.113.5"]
	require.True(t, banned)
}

func TestRunTickSkipsWhitelistedIPs(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{New: []decision.Decision{{IP: "203.0.113.5", Kind: decision.KindBan}}}}
	c := &fakeCluster{}
	loc := newFakeLocal()

	r := newTestReconciler(l, nil, c, loc, []string{"203.0.113.5"})
	r.runTick(context.Background())

	require.Empty(t, c.lastAdds)
	require.Equal(t, 0, c.bulkUpdateCalls)
	require.Empty(t, loc.members)
}

func TestRunTickSkipsBulkUpdateWhenNothingToDo(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{}}
	c := &fakeCluster{}

	r := newTestReconciler(l, nil, c, nil, nil)
	r.runTick(context.Background())

	require.Equal(t, 0, c.bulkUpdateCalls)
}

func TestRunTickRejectsStructurallyInvalidIPs(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{New: []decision.Decision{{IP: "not-an-ip", Kind: decision.KindBan}}}}
	c := &fakeCluster{}

	r := newTestReconciler(l, nil, c, nil, nil)
	r.runTick(context.Background())

	require.Empty(t, c.lastAdds)
}

func TestRunTickSIEMAllowAddsToUnban(t *testing.T) {
	s := &fakeSIEM{alerts: []siem.Alert{}}
	s.alerts = append(s.alerts, siem.Alert{})
	s.alerts[0].Rule.Level = 8
	s.alerts[0].Data.SrcIP = "198.51.100.9"
	c := &fakeCluster{}

	r := newTestReconciler(nil, s, c, nil, nil)
	r.runTick(context.Background())

	require.Equal(t, []string{"198.51.100.9"}, c.lastRemoves)
}

func TestRunTickSIEMMonitorNeverReachesSinks(t *testing.T) {
	var a siem.Alert
	a.Rule.Level = 3
	a.Data.SrcIP = "198.51.100.9"
	s := &fakeSIEM{alerts: []siem.Alert{a}}
	c := &fakeCluster{}

	r := newTestReconciler(nil, s, c, nil, nil)
	r.runTick(context.Background())

	require.Equal(t, 0, c.bulkUpdateCalls)
}

func TestRunTickCountsClusterPerIPFailures(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{New: []decision.Decision{{IP: "203.0.113.5", Kind: decision.KindBan}}}}
	c := &fakeCluster{failures: 1}

	r, rec := newTestReconcilerWithMetrics(l, nil, c, nil, nil)
	r.runTick(context.Background())

	require.Equal(t, float64(1), errorsTotalFor(t, rec, "cluster"))
}

func TestRunTickRequestsFullCorpusOnlyOnFirstPoll(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{}}
	r := newTestReconciler(l, nil, nil, nil, nil)

	r.runTick(context.Background())
	require.True(t, l.lastStartup)

	r.runTick(context.Background())
	require.False(t, l.lastStartup)
}

func TestRunTickNotifiesTickObserver(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{New: []decision.Decision{{IP: "203.0.113.5", Kind: decision.KindBan}}}}
	r := newTestReconciler(l, nil, nil, nil, nil)

	var observed *decision.SyncTick
	r.SetTickObserver(func(tick *decision.SyncTick) { observed = tick })
	r.runTick(context.Background())

	require.NotNil(t, observed)
	require.Equal(t, []string{"203.0.113.5"}, observed.ToBan)
	require.False(t, observed.FinishedAt.IsZero())
}

func TestRunTickAdapterFailureDoesNotAbortTick(t *testing.T) {
	lapiFail := &fakeLAPI{decisions: lapi.Decisions{}, err: errAdapter}
	c := &fakeCluster{}
	loc := newFakeLocal()

	r := newTestReconciler(lapiFail, nil, c, loc, nil)
	require.NotPanics(t, func() { r.runTick(context.Background()) })
	require.Equal(t, 0, c.bulkUpdateCalls)
}

func TestCurrentlyBannedTracksLocalSinkMembership(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{New: []decision.Decision{
		{IP: "203.0.113.5", Kind: decision.KindBan},
		{IP: "203.0.113.6", Kind: decision.KindBan},
	}}}
	loc := newFakeLocal()

	r, rec := newTestReconcilerWithMetrics(l, nil, nil, loc, nil)
	r.runTick(context.Background())

	members, err := loc.List()
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, float64(2), metricValue(t, rec, "banctl_currently_banned", "", ""))
}

func TestTestConnectionsFailsFastOnClusterOutage(t *testing.T) {
	c := &fakeCluster{testConnErr: errAdapter}
	r := newTestReconciler(nil, nil, c, nil, nil)

	err := r.TestConnections(context.Background())
	require.Error(t, err)
}

func TestTestConnectionsToleratesLAPIAndSIEMFailures(t *testing.T) {
	l := &fakeLAPI{err: errAdapter}
	s := &fakeSIEM{err: errAdapter}
	c := &fakeCluster{}

	r := newTestReconciler(l, s, c, nil, nil)
	require.NoError(t, r.TestConnections(context.Background()))
}

type fakeGeo struct {
	country string
	ok      bool
}

func (f *fakeGeo) Country(ip string) (string, bool) { return f.country, f.ok }

func TestRunTickTagsBanWithCountryWhenGeoAvailable(t *testing.T) {
	l := &fakeLAPI{decisions: lapi.Decisions{New: []decision.Decision{{IP: "203.0.113.5", Kind: decision.KindBan}}}}
	rec := metrics.NewRecorder()
	r := New(Config{SyncInterval: time.Second, ClusterSetName: "blocklist", MetricsSummaryEvery: 10},
		l, nil, nil, nil, &fakeGeo{country: "DE", ok: true}, decision.NewWhitelist(nil), rec)

	require.NotPanics(t, func() { r.runTick(context.Background()) })
	require.Equal(t, float64(1), metricValue(t, rec, "banctl_ban_decisions_by_country_total", "country", "DE"))
}

var errAdapter = &adapterError{}

type adapterError struct{}

func (*adapterError) Error() string { return "adapter unavailable" }
