// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package lapi implements the CrowdSec-style Local API source adapter:
// delta-stream polling, heartbeat, and ban-decision decoding.
package lapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"grimm.is/banctl/internal/decision"
	"grimm.is/banctl/internal/errors"
	"grimm.is/banctl/internal/logging"
)

// rawDecision mirrors the LAPI wire format.
type rawDecision struct {
	ID        int    `json:"id"`
	Origin    string `json:"origin"`
	Type      string `json:"type"`
	Scope     string `json:"scope"`
	Value     string `json:"value"`
	Duration  string `json:"duration"`
	Scenario  string `json:"scenario"`
	Simulated bool   `json:"simulated"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type streamResponse struct {
	New     []rawDecision `json:"new"`
	Deleted []rawDecision `json:"deleted"`
}

// Decisions is the result of one get_decisions round trip.
type Decisions struct {
	New     []decision.Decision
	Deleted []decision.Decision
}

// Adapter polls a CrowdSec-style LAPI decisions stream.
type Adapter struct {
	baseURL   string
	apiKey    string
	machineID string
	client    *http.Client
	log       *logging.Logger
}

// New creates an Adapter. machineID, when empty, is generated once from a
// cryptographic RNG via google/uuid and retained for the process lifetime.
func New(baseURL, apiKey, machineID string, client *http.Client) *Adapter {
	if machineID == "" {
		machineID = uuid.New().String()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Adapter{
		baseURL:   baseURL,
		apiKey:    apiKey,
		machineID: machineID,
		client:    client,
		log:       logging.Default().WithComponent("lapi"),
	}
}

// MachineID returns the stable identifier used to authenticate heartbeats.
func (a *Adapter) MachineID() string { return a.machineID }

// GetDecisions performs one round trip against the decisions stream.
// startup requests the full current decision corpus rather than a delta.
func (a *Adapter) GetDecisions(ctx context.Context, startup bool) (Decisions, error) {
	url := a.baseURL + "/v1/decisions/stream"
	if startup {
		url += "?startup=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Decisions{}, errors.Wrap(err, errors.KindInternal, "failed to build decisions request")
	}
	req.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return Decisions{}, errors.Wrap(err, errors.KindUnavailable, "lapi decisions request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Decisions{}, errors.New(errors.KindPermission, "lapi authentication failed")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Decisions{}, errors.Errorf(errors.KindUnavailable, "lapi decisions returned status %d", resp.StatusCode)
	}

	var stream streamResponse
	if err := json.NewDecoder(resp.Body).Decode(&stream); err != nil {
		return Decisions{}, errors.Wrap(err, errors.KindInternal, "failed to parse lapi decisions response")
	}

	return Decisions{
		New:     decodeBanDecisions(stream.New),
		Deleted: decodeBanDecisions(stream.Deleted),
	}, nil
}

// decodeBanDecisions keeps only type=="ban" && scope=="Ip" entries with a
// non-empty ip value. Simulated decisions are carried through unfiltered;
// only the whitelist and IP validity gate what reaches a sink.
func decodeBanDecisions(raw []rawDecision) []decision.Decision {
	var out []decision.Decision
	for _, d := range raw {
		if d.Type != "ban" || d.Scope != "Ip" {
			continue
		}
		if d.Value == "" {
			continue
		}
		ttl, _ := time.ParseDuration(normalizeDuration(d.Duration))
		out = append(out, decision.Decision{
			IP:       d.Value,
			Kind:     decision.KindBan,
			Origin:   decision.OriginLAPI,
			Scenario: d.Scenario,
			TTL:      ttl,
		})
	}
	return out
}

// normalizeDuration best-effort maps CrowdSec-style durations (e.g.
// "4h0m0s", "-1") onto Go's duration grammar; unparsable input yields a
// zero TTL ("valid until upstream deletes it"), which is already the
// spec's semantics for an absent TTL.
func normalizeDuration(s string) string {
	if s == "" || s == "-1" {
		return "0s"
	}
	return s
}

// Heartbeat is a best-effort POST; failures are warned and swallowed.
func (a *Adapter) Heartbeat(ctx context.Context) {
	body, _ := json.Marshal(map[string]string{"machine_id": a.machineID})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/heartbeat", bytes.NewReader(body))
	if err != nil {
		a.log.WithError(err).Warn("failed to build heartbeat request")
		return
	}
	req.Header.Set("X-Api-Key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.WithError(err).Warn("lapi heartbeat failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.log.Warn("lapi heartbeat returned non-2xx", "status", resp.StatusCode)
	}
}

// TestConnection issues a best-effort heartbeat as the adapter's
// contribution to the reconciler's startup connectivity probe.
func (a *Adapter) TestConnection(ctx context.Context) error {
	a.Heartbeat(ctx)
	return nil
}
