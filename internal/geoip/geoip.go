// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package geoip provides optional, best-effort country enrichment of ban
// decisions. It never affects policy: a missing database or a lookup miss
// just leaves a decision unlabeled.
package geoip

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"grimm.is/banctl/internal/errors"
	"grimm.is/banctl/internal/logging"
)

// Lookup resolves an IP address to an ISO country code.
type Lookup interface {
	Country(ip string) (string, bool)
	Close() error
}

// Reader wraps a MaxMind GeoLite2-Country database.
type Reader struct {
	mu  sync.RWMutex
	db  *geoip2.Reader
	log *logging.Logger
}

// Open opens the MaxMind database at path. An empty path disables
// enrichment; Open still succeeds and Country always reports a miss.
func Open(path string) (*Reader, error) {
	r := &Reader{log: logging.Default().WithComponent("geoip")}
	if path == "" {
		return r, nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to open geoip database %s", path)
	}
	r.db = db
	return r, nil
}

// Country returns the ISO country code for ip, or ("", false) if
// enrichment is disabled, the address fails to parse, or the lookup misses.
func (r *Reader) Country(ip string) (string, bool) {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return "", false
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", false
	}

	record, err := db.Country(parsed)
	if err != nil {
		r.log.WithError(err).Debug("geoip lookup failed", "ip", ip)
		return "", false
	}
	if record.Country.IsoCode == "" {
		return "", false
	}
	return record.Country.IsoCode, true
}

// Close releases the underlying database, if one was opened.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
