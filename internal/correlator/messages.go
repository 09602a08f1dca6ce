package correlator

import (
	"github.com/sweeney/asterisk-dashboard/internal/state"
)

// Push channel event names.
const (
	EventConnectionStatus = "connection_status"
	EventInitialState     = "initial_state"
	EventCallDelta        = "call_delta"
	EventPeerUpdate       = "peer_update"
	EventDeviceState      = "device_state"
	EventDiagnostic       = "diagnostic_event"
)

// DeltaKind tags a call_delta payload.
type DeltaKind string

const (
	DeltaStart  DeltaKind = "start"
	DeltaUpdate DeltaKind = "update"
	DeltaEnd    DeltaKind = "end"
)

// Message is an outbound broadcast produced by the correlator.
type Message struct {
	Event   string
	Payload any
}

// CallDelta is the call_delta payload. A start delta carries the full record,
// an update only the fields the event touched, an end only id, channel and
// cause.
type CallDelta struct {
	DeltaKind DeltaKind `json:"deltaKind"`
	state.CallRecord
	Cause string `json:"cause,omitempty"`
}

// InitialState is the full snapshot sent to a new subscriber and after the
// PBX link drops.
type InitialState struct {
	Calls []state.CallRecord `json:"calls"`
	Peers []state.PeerRecord `json:"peers"`
}

// DeviceState is the device_state payload.
type DeviceState struct {
	Device string `json:"device"`
	State  string `json:"state"`
}

// HangupCause maps Asterisk hangup cause codes to names and descriptions.
var HangupCause = map[int]struct {
	Name        string
	Description string
}{
	0:   {"unknown", "Unknown or no cause provided"},
	16:  {"normal_clearing", "The call was hung up normally by one of the parties"},
	17:  {"user_busy", "The destination was busy"},
	18:  {"no_answer", "The destination did not answer"},
	19:  {"no_answer", "The destination did not answer within the timeout"},
	21:  {"call_rejected", "The call was rejected by the destination"},
	31:  {"normal_unspecified", "Normal call clearing, unspecified cause"},
	34:  {"congestion", "All circuits are busy or no circuit is available"},
	127: {"interworking", "An interworking error occurred"},
}

func startDelta(rec state.CallRecord) Message {
	return Message{Event: EventCallDelta, Payload: CallDelta{DeltaKind: DeltaStart, CallRecord: rec}}
}

func updateDelta(rec state.CallRecord) Message {
	return Message{Event: EventCallDelta, Payload: CallDelta{DeltaKind: DeltaUpdate, CallRecord: rec}}
}

func peerUpdate(rec state.PeerRecord) Message {
	return Message{Event: EventPeerUpdate, Payload: rec}
}
