package state

// CallRecord is one active channel leg. Two legs of a bridged call share a
// LinkedID; the originating leg has ID == LinkedID.
type CallRecord struct {
	ID                     string `json:"id"`
	LinkedID               string `json:"linkedId,omitempty"`
	ChannelName            string `json:"channelName,omitempty"`
	CallerID               string `json:"callerId,omitempty"`
	CallerName             string `json:"callerName,omitempty"`
	State                  string `json:"state,omitempty"`
	Extension              string `json:"extension,omitempty"`
	DialplanContext        string `json:"dialplanContext,omitempty"`
	Application            string `json:"application,omitempty"`
	ConnectedLineNumber    string `json:"connectedLineNumber,omitempty"`
	ConnectedLineName      string `json:"connectedLineName,omitempty"`
	AccountCode            string `json:"accountCode,omitempty"`
	StartedAtEpochMs       int64  `json:"startedAtEpochMs,omitempty"`
	Destination            string `json:"destination,omitempty"`
	DestinationChannelName string `json:"destinationChannelName,omitempty"`
	DialOutcome            string `json:"dialOutcome,omitempty"`
	DurationSeconds        *int   `json:"durationSeconds,omitempty"`
}

// CallPatch is a partial update. Nil fields are left untouched.
type CallPatch struct {
	State                  *string
	Extension              *string
	DialplanContext        *string
	Application            *string
	ConnectedLineNumber    *string
	ConnectedLineName      *string
	Destination            *string
	DestinationChannelName *string
	DialOutcome            *string
}

// Apply merges the patch into rec.
func (p CallPatch) Apply(rec *CallRecord) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&rec.State, p.State)
	set(&rec.Extension, p.Extension)
	set(&rec.DialplanContext, p.DialplanContext)
	set(&rec.Application, p.Application)
	set(&rec.ConnectedLineNumber, p.ConnectedLineNumber)
	set(&rec.ConnectedLineName, p.ConnectedLineName)
	set(&rec.Destination, p.Destination)
	set(&rec.DestinationChannelName, p.DestinationChannelName)
	set(&rec.DialOutcome, p.DialOutcome)
}

// IsEmpty reports whether the patch would change nothing.
func (p CallPatch) IsEmpty() bool {
	return p == CallPatch{}
}

// PeerRecord is one monitored endpoint.
type PeerRecord struct {
	ID                     string `json:"id"`
	StatusLabel            string `json:"statusLabel"`
	Address                string `json:"address,omitempty"`
	StatusChangedAtEpochMs int64  `json:"statusChangedAtEpochMs"`
}

// PeerReport is an observed endpoint state from any of the peer listings.
type PeerReport struct {
	StatusLabel string
	Address     string
}

// ConnectionState describes the PBX link.
type ConnectionState struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Stats summarises the store for the status endpoint.
type Stats struct {
	Calls int
	Peers int
}

// Str returns a pointer to s, for building patches.
func Str(s string) *string {
	return &s
}
