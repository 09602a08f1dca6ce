package correlator

// Typed views of the AMI events the correlator consumes. Each struct is
// decoded with ami.Unmarshal; the handler then normalizes it into store
// operations.

type newchannelEvent struct {
	Channel           string `ami:"Channel"`
	ChannelState      string `ami:"ChannelState"`
	ChannelStateDesc  string `ami:"ChannelStateDesc"`
	CallerIDNum       string `ami:"CallerIDNum"`
	CallerIDName      string `ami:"CallerIDName"`
	ConnectedLineNum  string `ami:"ConnectedLineNum"`
	ConnectedLineName string `ami:"ConnectedLineName"`
	AccountCode       string `ami:"AccountCode"`
	Context           string `ami:"Context"`
	Exten             string `ami:"Exten"`
	DNID              string `ami:"DNID"`
	Application       string `ami:"Application"`
	Uniqueid          string `ami:"Uniqueid"`
	Linkedid          string `ami:"Linkedid"`
}

type newstateEvent struct {
	Channel           string `ami:"Channel"`
	ChannelStateDesc  string `ami:"ChannelStateDesc"`
	ConnectedLineNum  string `ami:"ConnectedLineNum"`
	ConnectedLineName string `ami:"ConnectedLineName"`
	Uniqueid          string `ami:"Uniqueid"`
}

type newextenEvent struct {
	Channel     string `ami:"Channel"`
	Application string `ami:"Application"`
	Context     string `ami:"Context"`
	Exten       string `ami:"Exten"`
	Uniqueid    string `ami:"Uniqueid"`
}

type dialBeginEvent struct {
	Channel     string `ami:"Channel"`
	Uniqueid    string `ami:"Uniqueid"`
	DestChannel string `ami:"DestChannel"`
	DialString  string `ami:"DialString"`
}

type dialEndEvent struct {
	Channel    string `ami:"Channel"`
	Uniqueid   string `ami:"Uniqueid"`
	DialStatus string `ami:"DialStatus"`
}

type hangupEvent struct {
	Channel  string `ami:"Channel"`
	Uniqueid string `ami:"Uniqueid"`
	Cause    string `ami:"Cause"`
	CauseTxt string `ami:"Cause-txt"`
}

type coreShowChannelEvent struct {
	Channel           string `ami:"Channel"`
	ChannelStateDesc  string `ami:"ChannelStateDesc"`
	CallerIDNum       string `ami:"CallerIDNum"`
	CallerIDName      string `ami:"CallerIDName"`
	ConnectedLineNum  string `ami:"ConnectedLineNum"`
	ConnectedLineName string `ami:"ConnectedLineName"`
	AccountCode       string `ami:"AccountCode"`
	Context           string `ami:"Context"`
	Exten             string `ami:"Exten"`
	Extension         string `ami:"Extension"`
	Application       string `ami:"Application"`
	Uniqueid          string `ami:"Uniqueid"`
	Linkedid          string `ami:"Linkedid"`
	Duration          string `ami:"Duration"`
}

type deviceStateChangeEvent struct {
	Device string `ami:"Device"`
	State  string `ami:"State"`
}

// Peer reports arrive in several wire shapes. Each implements peerSource and
// normalizes itself into an id plus report; ok is false when the entry is not
// a monitored extension.

type peerSource interface {
	peer() (id string, report peerFields, ok bool)
}

type peerFields struct {
	status  string
	address string
}

// peerEntryEvent is the chan_sip SIPpeers listing. It has no extension filter.
type peerEntryEvent struct {
	ObjectName  string `ami:"ObjectName"`
	ChannelType string `ami:"Channeltype"`
	Status      string `ami:"Status"`
	IPAddress   string `ami:"IPaddress"`
	IPPort      string `ami:"IPport"`
}

func (e peerEntryEvent) peer() (string, peerFields, bool) {
	if e.ObjectName == "" {
		return "", peerFields{}, false
	}
	return e.ObjectName, peerFields{
		status:  firstNonEmpty(e.Status, "Unknown"),
		address: firstNonEmpty(e.IPAddress, e.IPPort, "N/A"),
	}, true
}

// endpointListEvent is the PJSIPShowEndpoints listing. Trunks are skipped.
type endpointListEvent struct {
	ObjectName  string `ami:"ObjectName"`
	DeviceState string `ami:"DeviceState"`
	Transport   string `ami:"Transport"`
}

func (e endpointListEvent) peer() (string, peerFields, bool) {
	if !isExtension(e.ObjectName) {
		return "", peerFields{}, false
	}
	return "PJSIP/" + e.ObjectName, peerFields{
		status:  firstNonEmpty(e.DeviceState, "Unknown"),
		address: firstNonEmpty(e.Transport, "N/A"),
	}, true
}

// peerStatusEvent is the real-time registration push.
type peerStatusEvent struct {
	Peer       string `ami:"Peer"`
	PeerStatus string `ami:"PeerStatus"`
	Address    string `ami:"Address"`
}

func (e peerStatusEvent) peer() (string, peerFields, bool) {
	if e.Peer == "" {
		return "", peerFields{}, false
	}
	return e.Peer, peerFields{
		status:  e.PeerStatus,
		address: firstNonEmpty(e.Address, "N/A"),
	}, true
}

// endpointLine is one row of "pjsip list endpoints" CLI output.
type endpointLine struct {
	name   string
	status string
}

func (e endpointLine) peer() (string, peerFields, bool) {
	if !isExtension(e.name) {
		return "", peerFields{}, false
	}
	return "PJSIP/" + e.name, peerFields{status: e.status, address: "pjsip"}, true
}
