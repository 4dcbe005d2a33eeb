// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package siem implements the Wazuh-style SIEM source adapter: bearer-token
// authentication with proactive and reactive refresh, and level-to-kind
// alert mapping.
package siem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"grimm.is/banctl/internal/clock"
	"grimm.is/banctl/internal/decision"
	"grimm.is/banctl/internal/errors"
	"grimm.is/banctl/internal/logging"
)

// tokenState is the SIEM adapter's small authentication state machine.
type tokenState int

const (
	stateUnauthenticated tokenState = iota
	stateAuthenticating
	stateAuthenticated
)

const (
	tokenLifetime  = 3600 * time.Second
	refreshWindow  = 300 * time.Second
)

type authenticateResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Alert is one Wazuh-style alert entry.
type Alert struct {
	Rule struct {
		Level int `json:"level"`
	} `json:"rule"`
	Data struct {
		SrcIP string `json:"srcip"`
	} `json:"data"`
}

type alertsResponse struct {
	Data struct {
		AffectedItems []Alert `json:"affected_items"`
	} `json:"data"`
}

// Adapter polls a Wazuh-style alerts endpoint guarded by a short-lived
// bearer token.
type Adapter struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	log      *logging.Logger

	state     tokenState
	token     string
	expiresAt time.Time
}

// New creates an Adapter in the Unauthenticated state.
func New(baseURL, username, password string, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{
		baseURL:  baseURL,
		username: username,
		password: password,
		client:   client,
		log:      logging.Default().WithComponent("siem"),
		state:    stateUnauthenticated,
	}
}

// TestConnection performs a best-effort authentication as the adapter's
// contribution to the reconciler's startup connectivity probe.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.authenticate(ctx); err != nil {
		a.log.WithError(err).Warn("siem test authentication failed")
	}
	return nil
}

// authenticate performs the basic-auth POST and transitions the token
// state machine to Authenticated on success.
func (a *Adapter) authenticate(ctx context.Context) error {
	a.state = stateAuthenticating

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/security/user/authenticate", nil)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to build authenticate request")
	}
	req.SetBasicAuth(a.username, a.password)

	resp, err := a.client.Do(req)
	if err != nil {
		a.state = stateUnauthenticated
		return errors.Wrap(err, errors.KindUnavailable, "siem authenticate request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.state = stateUnauthenticated
		return errors.Errorf(errors.KindPermission, "siem authenticate returned status %d", resp.StatusCode)
	}

	var auth authenticateResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		a.state = stateUnauthenticated
		return errors.Wrap(err, errors.KindInternal, "failed to parse siem authenticate response")
	}

	a.token = auth.Data.Token
	a.expiresAt = clock.Now().Add(tokenLifetime)
	a.state = stateAuthenticated
	return nil
}

// ensureAuthenticated authenticates if unauthenticated or within the
// proactive refresh window of expiry.
func (a *Adapter) ensureAuthenticated(ctx context.Context) error {
	if a.state == stateAuthenticated && clock.Now().Before(a.expiresAt.Add(-refreshWindow)) {
		return nil
	}
	return a.authenticate(ctx)
}

// GetAlerts ensures an authenticated state and issues a GET against the
// alerts endpoint. A 401 response forces exactly one re-authentication
// and one retry.
func (a *Adapter) GetAlerts(ctx context.Context, since *time.Time, limit int) ([]Alert, error) {
	if err := a.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	alerts, status, err := a.fetchAlerts(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	if status != http.StatusUnauthorized {
		return alerts, statusToError(status)
	}

	// Reactive refresh: drop the token, retry exactly once.
	a.state = stateUnauthenticated
	if err := a.authenticate(ctx); err != nil {
		return nil, err
	}
	alerts, status, err = a.fetchAlerts(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	return alerts, statusToError(status)
}

func statusToError(status int) error {
	if status < 200 || status >= 300 {
		return errors.Errorf(errors.KindUnavailable, "siem alerts returned status %d", status)
	}
	return nil
}

func (a *Adapter) fetchAlerts(ctx context.Context, since *time.Time, limit int) ([]Alert, int, error) {
	url := fmt.Sprintf("%s/alerts?pretty=true&limit=%d", a.baseURL, limit)
	if since != nil {
		url += fmt.Sprintf("&timestamp>=%d", since.Unix())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.KindInternal, "failed to build alerts request")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.KindUnavailable, "siem alerts request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, nil
	}

	var decoded alertsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, 0, errors.Wrap(err, errors.KindInternal, "failed to parse siem alerts response")
	}
	return decoded.Data.AffectedItems, resp.StatusCode, nil
}

// ToActions projects alerts into Decisions, dropping alerts without a
// source IP and deriving kind purely from rule.level. Monitor-level
// results are included; it is the caller's responsibility to treat them
// as log-only and never forward them to a sink.
func ToActions(alerts []Alert) []decision.Decision {
	var out []decision.Decision
	for _, alert := range alerts {
		if alert.Data.SrcIP == "" {
			continue
		}
		out = append(out, decision.Decision{
			IP:     alert.Data.SrcIP,
			Kind:   levelToKind(alert.Rule.Level),
			Origin: decision.OriginSIEM,
		})
	}
	return out
}

// levelToKind maps a Wazuh rule level onto a decision kind.
func levelToKind(level int) decision.Kind {
	switch {
	case level <= 5:
		return decision.KindMonitor
	case level <= 10:
		return decision.KindAllow
	default:
		return decision.KindBan
	}
}
