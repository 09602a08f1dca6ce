// Package state holds the authoritative in-memory view of active channel legs
// and monitored peers.
package state

import (
	"sort"
	"time"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Store maps call ids to CallRecords and peer ids to PeerRecords.
//
// Store is not safe for concurrent use. Every mutation and read happens on the
// gateway's event loop.
type Store struct {
	calls map[string]CallRecord
	peers map[string]PeerRecord
	conn  ConnectionState
	clock Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for peer status tracking.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		calls: make(map[string]CallRecord),
		peers: make(map[string]PeerRecord),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock's current time in epoch milliseconds.
func (s *Store) Now() int64 {
	return s.clock().UnixMilli()
}

// GetCall returns the record for id.
func (s *Store) GetCall(id string) (CallRecord, bool) {
	rec, ok := s.calls[id]
	return rec, ok
}

// SetCall replaces the record for id.
func (s *Store) SetCall(id string, rec CallRecord) {
	rec.ID = id
	s.calls[id] = rec
}

// UpdateCall merges patch into an existing record and returns the result.
// It never creates a record: ok is false when id is unknown.
func (s *Store) UpdateCall(id string, patch CallPatch) (CallRecord, bool) {
	rec, ok := s.calls[id]
	if !ok {
		return CallRecord{}, false
	}
	patch.Apply(&rec)
	s.calls[id] = rec
	return rec, true
}

// DeleteCall removes id and returns the removed record, if any.
func (s *Store) DeleteCall(id string) (CallRecord, bool) {
	rec, ok := s.calls[id]
	delete(s.calls, id)
	return rec, ok
}

// ClearCalls drops every call record and returns how many were removed.
func (s *Store) ClearCalls() int {
	n := len(s.calls)
	s.calls = make(map[string]CallRecord)
	return n
}

// ListCalls returns all records ordered by start time, then id.
func (s *Store) ListCalls() []CallRecord {
	out := make([]CallRecord, 0, len(s.calls))
	for _, rec := range s.calls {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAtEpochMs != out[j].StartedAtEpochMs {
			return out[i].StartedAtEpochMs < out[j].StartedAtEpochMs
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetPeer returns the record for id.
func (s *Store) GetPeer(id string) (PeerRecord, bool) {
	rec, ok := s.peers[id]
	return rec, ok
}

// SetPeer merges a report into the peer record, creating it if needed.
// StatusChangedAtEpochMs moves only when the status label changes, and never
// moves backwards.
func (s *Store) SetPeer(id string, report PeerReport) PeerRecord {
	now := s.Now()
	prev, exists := s.peers[id]

	rec := prev
	rec.ID = id
	if report.StatusLabel != "" {
		rec.StatusLabel = report.StatusLabel
	}
	if report.Address != "" {
		rec.Address = report.Address
	}

	switch {
	case !exists:
		rec.StatusChangedAtEpochMs = now
	case prev.StatusLabel != rec.StatusLabel:
		rec.StatusChangedAtEpochMs = max(now, prev.StatusChangedAtEpochMs)
	}

	s.peers[id] = rec
	return rec
}

// ListPeers returns all peers ordered by id.
func (s *Store) ListPeers() []PeerRecord {
	out := make([]PeerRecord, 0, len(s.peers))
	for _, rec := range s.peers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connection returns the last recorded PBX link state.
func (s *Store) Connection() ConnectionState {
	return s.conn
}

// SetConnection records the PBX link state.
func (s *Store) SetConnection(connected bool, errMsg string) {
	s.conn = ConnectionState{Connected: connected, Error: errMsg}
}

// Stats returns record counts.
func (s *Store) Stats() Stats {
	return Stats{Calls: len(s.calls), Peers: len(s.peers)}
}
