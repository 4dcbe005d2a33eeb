// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cluster implements the cluster-wide firewall IPSet enforcement
// plane: a Proxmox-style HTTPS JSON/form control plane driven with an
// API-token auth scheme.
package cluster

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"grimm.is/banctl/internal/errors"
	"grimm.is/banctl/internal/logging"
)

// Entry is one member of a cluster IPSet.
type Entry struct {
	CIDR    string `json:"cidr"`
	NoMatch bool   `json:"nomatch,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type ipsetEntriesResponse struct {
	Data []Entry `json:"data"`
}

// Sink drives a Proxmox-style cluster firewall IPSet over HTTPS.
type Sink struct {
	baseURL    string
	setName    string
	tokenID    string
	tokenSecret string
	client     *http.Client
	log        *logging.Logger
}

// New creates a Sink. insecureSkipVerify disables TLS certificate
// verification, for clusters behind self-signed internal CAs.
func New(baseURL, setName, tokenID, tokenSecret string, insecureSkipVerify bool) *Sink {
	transport := &http.Transport{}
	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Sink{
		baseURL:     strings.TrimRight(baseURL, "/"),
		setName:     setName,
		tokenID:     tokenID,
		tokenSecret: tokenSecret,
		client:      &http.Client{Timeout: 15 * time.Second, Transport: transport},
		log:         logging.Default().WithComponent("cluster_sink"),
	}
}

func (s *Sink) authHeader() string {
	return fmt.Sprintf("PVEAPIToken=%s=%s", s.tokenID, s.tokenSecret)
}

// TestConnection probes /version as the fatal-at-startup cluster check.
func (s *Sink) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/version", nil)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to build version request")
	}
	req.Header.Set("Authorization", s.authHeader())

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "cluster version probe failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf(errors.KindUnavailable, "cluster version probe returned status %d", resp.StatusCode)
	}
	return nil
}

// GetSet returns current membership, lazily creating the set if absent.
func (s *Sink) GetSet(ctx context.Context, name string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/cluster/firewall/ipset/"+name, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to build get_set request")
	}
	req.Header.Set("Authorization", s.authHeader())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "get_set request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		if err := s.createSet(ctx, name); err != nil {
			return nil, err
		}
		return nil, nil
	case http.StatusUnauthorized:
		return nil, errors.New(errors.KindPermission, "cluster auth failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf(errors.KindUnavailable, "get_set returned status %d", resp.StatusCode)
	}

	var decoded ipsetEntriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to parse get_set response")
	}
	return decoded.Data, nil
}

func (s *Sink) createSet(ctx context.Context, name string) error {
	form := url.Values{"name": {name}, "comment": {"managed by banctl"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/cluster/firewall/ipset",
		strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to build create_set request")
	}
	req.Header.Set("Authorization", s.authHeader())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "create_set request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return errors.Errorf(errors.KindUnavailable, "create_set returned status %d", resp.StatusCode)
	}
	return nil
}

// Add inserts one IP into the named set. HTTP 422 (duplicate) is treated
// as success; 401 surfaces as KindPermission.
func (s *Sink) Add(ctx context.Context, name, ip, comment string) error {
	form := url.Values{"cidr": {ip}}
	if comment != "" {
		form.Set("comment", comment)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/cluster/firewall/ipset/"+name,
		strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to build add request")
	}
	req.Header.Set("Authorization", s.authHeader())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "add request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnprocessableEntity:
		return nil
	case http.StatusUnauthorized:
		return errors.New(errors.KindPermission, "cluster auth failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf(errors.KindUnavailable, "add returned status %d", resp.StatusCode)
	}
	return nil
}

// Remove deletes one IP from the named set by URL-encoded path segment.
// HTTP 404 (absent) is treated as success; 401 surfaces as KindPermission.
func (s *Sink) Remove(ctx context.Context, name, ip string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		s.baseURL+"/cluster/firewall/ipset/"+name+"/"+encodePathSegment(ip), nil)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to build remove request")
	}
	req.Header.Set("Authorization", s.authHeader())

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "remove request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil
	case http.StatusUnauthorized:
		return errors.New(errors.KindPermission, "cluster auth failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf(errors.KindUnavailable, "remove returned status %d", resp.StatusCode)
	}
	return nil
}

// BulkUpdate applies removes then adds, each in its own try/log-continue
// so one failing IP never aborts the batch. A single summary line is
// logged with both counts. failures counts every non-coalesced per-IP
// error (anything but the 422/404 idempotency cases, which Add/Remove
// already fold into a nil return); the caller is expected to account
// each one against its own error metrics, since BulkUpdate itself never
// aborts on them.
func (s *Sink) BulkUpdate(ctx context.Context, name string, adds, removes []string) (failures int, err error) {
	var removed, added int
	var authErr error

	for _, ip := range removes {
		if err := s.Remove(ctx, name, ip); err != nil {
			if errors.GetKind(err) == errors.KindPermission {
				authErr = err
				continue
			}
			s.log.WithError(err).Warn("cluster remove failed", "ip", ip)
			failures++
			continue
		}
		removed++
	}
	for _, ip := range adds {
		if err := s.Add(ctx, name, ip, ""); err != nil {
			if errors.GetKind(err) == errors.KindPermission {
				authErr = err
				continue
			}
			s.log.WithError(err).Warn("cluster add failed", "ip", ip)
			failures++
			continue
		}
		added++
	}

	s.log.Info("cluster bulk_update complete", "added", added, "removed", removed,
		"requested_adds", len(adds), "requested_removes", len(removes), "failures", failures)

	return failures, authErr
}

// encodePathSegment is a minimal encoder sufficient for CIDR literals,
// covering "/", ":", and space.
func encodePathSegment(s string) string {
	r := strings.NewReplacer("/", "%2F", ":", "%3A", " ", "%20")
	return r.Replace(s)
}
