// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package local implements the host-local enforcement plane: an nftables
// named IPv4 set driven through the nft binary as a subprocess rather
// than through netlink.
package local

import (
	"os/exec"
	"strings"

	"grimm.is/banctl/internal/decision"
	"grimm.is/banctl/internal/errors"
	"grimm.is/banctl/internal/logging"
)

const family = "ip"

// runner abstracts subprocess execution so tests can substitute a fake.
type runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Sink asserts a host-local packet-filter set via the nft CLI.
type Sink struct {
	table string
	chain string
	set   string

	run runner
	log *logging.Logger
}

// New creates a Sink and runs its initialization contract: the table,
// set, and drop rule are created idempotently.
func New(table, chain, set string) (*Sink, error) {
	s := &Sink{
		table: table,
		chain: chain,
		set:   set,
		run:   execRunner,
		log:   logging.Default().WithComponent("local_sink"),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) init() error {
	if _, err := s.nft("add", "table", family, s.table); err != nil {
		return err
	}
	if _, err := s.nft("add", "set", family, s.table, s.set,
		"{ type ipv4_addr; flags interval; }"); err != nil {
		return err
	}
	if _, err := s.nft("add", "rule", family, s.table, s.chain,
		"ip", "saddr", "@"+s.set, "drop"); err != nil {
		return err
	}
	return nil
}

// nft runs nft with args, coalescing idempotency-signalling stderr
// substrings into success.
func (s *Sink) nft(args ...string) ([]byte, error) {
	out, err := s.run("nft", args...)
	if err == nil {
		return out, nil
	}
	if isIdempotent(out) {
		return out, nil
	}
	return out, errors.Wrapf(err, errors.KindUnavailable, "nft %s: %s", strings.Join(args, " "), string(out))
}

func isIdempotent(output []byte) bool {
	s := string(output)
	return strings.Contains(s, "Object exists") || strings.Contains(s, "No such file or directory")
}

// Add inserts a single IP into the set. Idempotent: re-adding an existing
// member succeeds silently.
func (s *Sink) Add(ip string) error {
	if !decision.ValidIPv4(ip) {
		return errors.Errorf(errors.KindValidation, "invalid IPv4 address: %s", ip)
	}
	_, err := s.nft("add", "element", family, s.table, s.set, "{ "+ip+" }")
	return err
}

// Remove deletes a single IP from the set. Idempotent: removing an absent
// member succeeds silently.
func (s *Sink) Remove(ip string) error {
	if !decision.ValidIPv4(ip) {
		return errors.Errorf(errors.KindValidation, "invalid IPv4 address: %s", ip)
	}
	_, err := s.nft("delete", "element", family, s.table, s.set, "{ "+ip+" }")
	return err
}

// List returns the current set membership as textual IPs.
func (s *Sink) List() ([]string, error) {
	out, err := s.nft("list", "set", family, s.table, s.set)
	if err != nil {
		return nil, err
	}
	return parseElements(string(out)), nil
}

// Flush removes all members of the set.
func (s *Sink) Flush() error {
	_, err := s.nft("flush", "set", family, s.table, s.set)
	return err
}

// parseElements extracts IPv4 literals from "nft list set" output, which
// renders members inside an "elements = { ... }" block.
func parseElements(output string) []string {
	start := strings.Index(output, "elements = {")
	if start == -1 {
		return nil
	}
	rest := output[start+len("elements = {"):]
	end := strings.Index(rest, "}")
	if end == -1 {
		return nil
	}
	body := rest[:end]

	var ips []string
	for _, field := range strings.Split(body, ",") {
		ip := strings.TrimSpace(field)
		if ip == "" {
			continue
		}
		if decision.ValidIPv4(ip) {
			ips = append(ips, ip)
		}
	}
	return ips
}
