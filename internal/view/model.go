package view

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sweeney/asterisk-dashboard/internal/correlator"
	"github.com/sweeney/asterisk-dashboard/internal/state"
)

// Indicator is the dashboard's three-state connection light.
type Indicator string

const (
	IndicatorConnected    Indicator = "connected"
	IndicatorPartial      Indicator = "partial"
	IndicatorDisconnected Indicator = "disconnected"
)

// LogKind tags an activity log entry.
type LogKind string

const (
	LogSystem LogKind = "system"
	LogError  LogKind = "error"
	LogCall   LogKind = "call"
	LogPeer   LogKind = "peer"
	LogEvent  LogKind = "event"
)

// LogEntry is one line of the activity log.
type LogEntry struct {
	Kind    LogKind
	Message string
}

// logLimit caps the activity log.
const logLimit = 100

// Model is a client-side replica of the gateway state, rebuilt from push
// messages. It is not safe for concurrent use.
type Model struct {
	conn  state.ConnectionState
	calls map[string]state.CallRecord
	peers map[string]state.PeerRecord
	log   []LogEntry
}

// NewModel returns an empty replica.
func NewModel() *Model {
	return &Model{
		calls: make(map[string]state.CallRecord),
		peers: make(map[string]state.PeerRecord),
	}
}

// Apply folds one push message into the replica. Unknown events are ignored.
func (m *Model) Apply(event string, data []byte) error {
	switch event {
	case correlator.EventConnectionStatus:
		var cs state.ConnectionState
		if err := json.Unmarshal(data, &cs); err != nil {
			return fmt.Errorf("decoding %s: %w", event, err)
		}
		m.conn = cs
		if cs.Connected {
			m.addLog(LogSystem, "PBX connected")
		} else if cs.Error != "" {
			m.addLog(LogError, "PBX disconnected: "+cs.Error)
		} else {
			m.addLog(LogError, "PBX disconnected")
		}

	case correlator.EventInitialState:
		var snap correlator.InitialState
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("decoding %s: %w", event, err)
		}
		m.calls = make(map[string]state.CallRecord, len(snap.Calls))
		for _, c := range snap.Calls {
			m.calls[c.ID] = c
		}
		m.peers = make(map[string]state.PeerRecord, len(snap.Peers))
		for _, p := range snap.Peers {
			m.peers[p.ID] = p
		}
		m.addLog(LogSystem, fmt.Sprintf("initial state: %d calls, %d peers", len(snap.Calls), len(snap.Peers)))

	case correlator.EventCallDelta:
		var d correlator.CallDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decoding %s: %w", event, err)
		}
		m.applyDelta(d)

	case correlator.EventPeerUpdate:
		var p state.PeerRecord
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decoding %s: %w", event, err)
		}
		m.peers[p.ID] = p
		m.addLog(LogPeer, "peer "+p.ID+" - "+p.StatusLabel)

	case correlator.EventDiagnostic:
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decoding %s: %w", event, err)
		}
		name, _ := raw["Event"].(string)
		m.addLog(LogEvent, "AMI: "+name)
	}
	return nil
}

func (m *Model) applyDelta(d correlator.CallDelta) {
	switch d.DeltaKind {
	case correlator.DeltaStart:
		m.calls[d.ID] = d.CallRecord
		m.addLog(LogCall, "call start: "+first(d.CallerID, d.ChannelName))

	case correlator.DeltaUpdate:
		rec, ok := m.calls[d.ID]
		if !ok {
			return
		}
		fill(&rec.State, d.State)
		fill(&rec.Application, d.Application)
		fill(&rec.DialplanContext, d.DialplanContext)
		fill(&rec.Extension, d.Extension)
		fill(&rec.Destination, d.Destination)
		fill(&rec.DestinationChannelName, d.DestinationChannelName)
		fill(&rec.DialOutcome, d.DialOutcome)
		if rec.ConnectedLineNumber == "" {
			rec.ConnectedLineNumber = d.ConnectedLineNumber
		}
		if rec.ConnectedLineName == "" {
			rec.ConnectedLineName = d.ConnectedLineName
		}
		m.calls[d.ID] = rec

	case correlator.DeltaEnd:
		delete(m.calls, d.ID)
		m.addLog(LogCall, "call end: "+d.ChannelName)
	}
}

func fill(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (m *Model) addLog(kind LogKind, msg string) {
	m.log = append(m.log, LogEntry{Kind: kind, Message: msg})
	if len(m.log) > logLimit {
		m.log = m.log[len(m.log)-logLimit:]
	}
}

// Connection returns the last reported PBX link state.
func (m *Model) Connection() state.ConnectionState { return m.conn }

// Calls returns the call legs ordered by start time, then id.
func (m *Model) Calls() []state.CallRecord {
	out := make([]state.CallRecord, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAtEpochMs != out[j].StartedAtEpochMs {
			return out[i].StartedAtEpochMs < out[j].StartedAtEpochMs
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Peers returns the peers ordered by id.
func (m *Model) Peers() []state.PeerRecord {
	out := make([]state.PeerRecord, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Merged returns the current physical calls.
func (m *Model) Merged() []MergedCall { return MergeCalls(m.Calls()) }

// Rows returns the current extension rows.
func (m *Model) Rows() []ExtensionRow { return DeriveExtensions(m.Peers(), m.Merged()) }

// Log returns the most recent activity entries, oldest first.
func (m *Model) Log() []LogEntry { return append([]LogEntry(nil), m.log...) }

// Indicator combines the local push link with the reported PBX link.
func (m *Model) Indicator(linkUp bool) Indicator {
	switch {
	case !linkUp:
		return IndicatorDisconnected
	case m.conn.Connected:
		return IndicatorConnected
	default:
		return IndicatorPartial
	}
}
