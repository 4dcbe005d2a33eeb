// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/banctl/internal/decision"
	"grimm.is/banctl/internal/metrics"
)

func newTestServer() *Server {
	return New("127.0.0.1:0", metrics.NewRecorder(), decision.NewWhitelist([]string{"203.0.113.1"}), nil)
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointExposesRegisteredSeries(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "banctl_bans_total")
}

func TestWhitelistEndpointReturnsCurrentEntries(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/whitelist", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "203.0.113.1")
}

func TestForceSyncWithoutWiringReturnsUnavailable(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/force-sync", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestForceSyncInvokesWiredCallback(t *testing.T) {
	called := make(chan struct{}, 1)
	s := New("127.0.0.1:0", metrics.NewRecorder(), decision.NewWhitelist(nil), func(ctx context.Context) {
		called <- struct{}{}
	})

	req := httptest.NewRequest(http.MethodPost, "/api/force-sync", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-called:
	case <-ctxTimeout():
		t.Fatal("force-sync callback was not invoked")
	}
}

func ctxTimeout() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		<-time.After(time.Second)
		close(ch)
	}()
	return ch
}
