// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package decision

import "time"

// SyncTick is the transient per-iteration state of one reconciliation tick.
// It is created at the start of an iteration, consumed by the sinks, and
// discarded; nothing about it survives across ticks.
type SyncTick struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	ToBan         []string
	ToUnban       []string
	AdapterErrors map[Origin]error
}

// NewSyncTick starts a new tick at the given time.
func NewSyncTick(startedAt time.Time) *SyncTick {
	return &SyncTick{
		StartedAt:     startedAt,
		AdapterErrors: make(map[Origin]error),
	}
}

// AddBan appends ip to ToBan. Callers are responsible for whitelist
// filtering and structural validation before calling this.
func (t *SyncTick) AddBan(ip string) {
	t.ToBan = append(t.ToBan, ip)
}

// AddUnban appends ip to ToUnban.
func (t *SyncTick) AddUnban(ip string) {
	t.ToUnban = append(t.ToUnban, ip)
}

// RecordAdapterError records that origin failed this tick. A present error
// short-circuits that adapter for the tick but never aborts the tick itself.
func (t *SyncTick) RecordAdapterError(origin Origin, err error) {
	t.AdapterErrors[origin] = err
}

// Duration returns the tick's wall-clock duration. Finish must have been
// called first; otherwise it returns 0.
func (t *SyncTick) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Finish marks the tick complete at finishedAt.
func (t *SyncTick) Finish(finishedAt time.Time) {
	t.FinishedAt = finishedAt
}
