// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/banctl/internal/errors"
)

func newTestSink(srv *httptest.Server) *Sink {
	return New(srv.URL, "blocklist", "root@pam!banctl", "secret-value", false)
}

func TestTestConnectionChecksAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PVEAPIToken=root@pam!banctl=secret-value", r.Header.Get("Authorization"))
		require.Equal(t, "/version", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestSink(srv).TestConnection(context.Background()))
}

func TestAddCoalesces422(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := newTestSink(srv).Add(context.Background(), "blocklist", "203.0.113.5", "")
	require.NoError(t, err)
}

func TestAddSurfacesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestSink(srv).Add(context.Background(), "blocklist", "203.0.113.5", "")
	require.Error(t, err)
	require.Equal(t, errors.KindPermission, errors.GetKind(err))
}

func TestRemoveCoalesces404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := newTestSink(srv).Remove(context.Background(), "blocklist", "203.0.113.5")
	require.NoError(t, err)
}

func TestRemoveURLEncodesPathSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cluster/firewall/ipset/blocklist/203.0.113.0%2F24", r.URL.EscapedPath())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestSink(srv).Remove(context.Background(), "blocklist", "203.0.113.0/24")
	require.NoError(t, err)
}

func TestGetSetLazilyCreatesOnNotFound(t *testing.T) {
	var createCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/cluster/firewall/ipset":
			createCalled = true
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	entries, err := newTestSink(srv).GetSet(context.Background(), "blocklist")
	require.NoError(t, err)
	require.Empty(t, entries)
	require.True(t, createCalled)
}

func TestBulkUpdateContinuesPastPerIPFailuresAndCountsThem(t *testing.T) {
	var addCount, removeCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			addCount++
			if addCount == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			removeCount++
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	s := newTestSink(srv)
	failures, err := s.BulkUpdate(context.Background(), "blocklist",
		[]string{"203.0.113.5", "203.0.113.6"}, []string{"198.51.100.9"})
	require.NoError(t, err)
	require.Equal(t, 1, failures)
	require.Equal(t, 2, addCount)
	require.Equal(t, 1, removeCount)
}

func TestBulkUpdateCoalescedFailuresDoNotCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusUnprocessableEntity)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := newTestSink(srv)
	failures, err := s.BulkUpdate(context.Background(), "blocklist",
		[]string{"203.0.113.5"}, []string{"198.51.100.9"})
	require.NoError(t, err)
	require.Equal(t, 0, failures)
}

func TestBulkUpdateOrdersRemovesBeforeAdds(t *testing.T) {
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSink(srv)
	_, err := s.BulkUpdate(context.Background(), "blocklist",
		[]string{"203.0.113.5"}, []string{"198.51.100.9"})
	require.NoError(t, err)
	require.Equal(t, []string{http.MethodDelete, http.MethodPost}, order)
}
