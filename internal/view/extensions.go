package view

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sweeney/asterisk-dashboard/internal/state"
)

// Status classifies an extension row.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusDialing   Status = "dialing"
	StatusInCall    Status = "in_call"
	StatusAvailable Status = "available"
	StatusOffline   Status = "offline"
)

var statusText = map[Status]string{
	StatusRinging:   "Ringing",
	StatusDialing:   "Dialing",
	StatusInCall:    "In Call",
	StatusAvailable: "Available",
	StatusOffline:   "Offline",
}

var statusOrder = map[Status]int{
	StatusRinging:   0,
	StatusDialing:   1,
	StatusInCall:    2,
	StatusAvailable: 3,
	StatusOffline:   4,
}

// Text returns the display label for s.
func (s Status) Text() string { return statusText[s] }

// rule maps any of its substrings, matched case-insensitively, to a status.
// Tables are evaluated top to bottom and the first matching rule wins.
type rule struct {
	contains []string
	status   Status
}

// peerRules classify a peer status label. "unavailable" contains "avail", so
// the unreachable row must come first.
var peerRules = []rule{
	{contains: []string{"unavailable", "unreachable", "unknown", "unregistered"}, status: StatusOffline},
	{contains: []string{"reachable", "ok", "avail", "registered"}, status: StatusAvailable},
}

// callRules classify the state label of the call an extension is on.
var callRules = []rule{
	{contains: []string{"ring"}, status: StatusRinging},
	{contains: []string{"dial", "down"}, status: StatusDialing},
}

func classify(label string, rules []rule, fallback Status) Status {
	lower := strings.ToLower(label)
	for _, r := range rules {
		for _, s := range r.contains {
			if strings.Contains(lower, s) {
				return r.status
			}
		}
	}
	return fallback
}

// ClassifyPeer returns available or offline for a peer status label.
func ClassifyPeer(label string) Status {
	return classify(label, peerRules, StatusOffline)
}

// ClassifyCall returns ringing, dialing or in_call for a call state label.
func ClassifyCall(label string) Status {
	return classify(label, callRules, StatusInCall)
}

// ExtensionRow is one peer annotated with its live call, if any.
type ExtensionRow struct {
	Extension    string      `json:"extension"`
	Status       Status      `json:"status"`
	StatusText   string      `json:"statusText"`
	SinceEpochMs int64       `json:"sinceEpochMs,omitempty"`
	InCallWith   string      `json:"inCallWith,omitempty"`
	Call         *MergedCall `json:"call,omitempty"`
}

// CallToken returns the extension a merged call belongs to: its caller id,
// or the endpoint parsed from the channel name when the caller is unknown.
func CallToken(c MergedCall) string {
	if c.CallerID != "Unknown" {
		return c.CallerID
	}
	_, rest, ok := strings.Cut(c.ChannelName, "/")
	if !ok {
		return ""
	}
	token, _, _ := strings.Cut(rest, "-")
	return token
}

// PeerToken returns the text after the last "/" of a peer id, or the id.
func PeerToken(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}

// DeriveExtensions builds one row per peer. When several calls resolve to the
// same extension the later one in calls wins; with MergeCalls ordering that
// is the most recently started call.
func DeriveExtensions(peers []state.PeerRecord, calls []MergedCall) []ExtensionRow {
	byToken := make(map[string]MergedCall, len(calls))
	for _, c := range calls {
		if tok := CallToken(c); tok != "" && tok != "Unknown" {
			byToken[tok] = c
		}
	}

	rows := make([]ExtensionRow, 0, len(peers))
	for _, p := range peers {
		ext := PeerToken(p.ID)
		row := ExtensionRow{Extension: ext}

		if c, ok := byToken[ext]; ok {
			call := c
			row.Status = ClassifyCall(first(c.State, "Active"))
			row.SinceEpochMs = c.StartedAtEpochMs
			row.InCallWith = c.Destination
			row.Call = &call
		} else {
			row.Status = ClassifyPeer(p.StatusLabel)
			row.SinceEpochMs = p.StatusChangedAtEpochMs
		}
		row.StatusText = row.Status.Text()
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		oi, oj := statusOrder[rows[i].Status], statusOrder[rows[j].Status]
		if oi != oj {
			return oi < oj
		}
		return naturalLess(rows[i].Extension, rows[j].Extension)
	})
	return rows
}

// naturalLess orders strings with embedded digit runs compared by value, so
// "2" sorts before "10". Letters compare case-insensitively.
func naturalLess(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		if isDigit(ra[i]) && isDigit(rb[j]) {
			si := i
			for i < len(ra) && isDigit(ra[i]) {
				i++
			}
			sj := j
			for j < len(rb) && isDigit(rb[j]) {
				j++
			}
			na := strings.TrimLeft(string(ra[si:i]), "0")
			nb := strings.TrimLeft(string(rb[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}

		ca, cb := unicode.ToLower(ra[i]), unicode.ToLower(rb[j])
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	if len(ra)-i != len(rb)-j {
		return len(ra)-i < len(rb)-j
	}
	return a < b
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
