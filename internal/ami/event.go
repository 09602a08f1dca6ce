package ami

import (
	"strconv"
	"strings"
)

// Event represents a parsed AMI message as an ordered set of key-value pairs.
// Both unsolicited events and action responses are Events.
type Event struct {
	headers []Header
}

// Header is a single "Key: Value" line. Raw body lines of a
// "Response: Follows" reply carry an empty Key.
type Header struct {
	Key   string
	Value string
}

// NewEvent creates an Event from a slice of key-value pairs.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, Header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// Get returns the value for the given key, or empty string if not found.
// Keys are matched case-insensitively; AMI is not consistent about casing
// across Asterisk versions (Uniqueid vs UniqueID).
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// GetAll returns every value for a repeated key, in stream order.
func (e Event) GetAll(key string) []string {
	var values []string
	for _, h := range e.headers {
		if strings.EqualFold(h.Key, key) {
			values = append(values, h.Value)
		}
	}
	return values
}

// Type returns the Event header value (the AMI event type).
func (e Event) Type() string {
	return e.Get("Event")
}

// GetInt returns the integer value for the given key, or 0 if not found/parseable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// Headers returns all headers as key-value pairs.
func (e Event) Headers() []Header {
	return e.headers
}

// IsResponse returns true if this is an AMI response rather than an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}

// IsSuccess reports whether a response carries Response: Success (or Follows,
// which older Asterisk uses for command output).
func (e Event) IsSuccess() bool {
	switch strings.ToLower(e.Get("Response")) {
	case "success", "follows", "goodbye":
		return true
	}
	return false
}

// ActionID returns the ActionID header used to correlate responses.
func (e Event) ActionID() string {
	return e.Get("ActionID")
}

// Map returns the named headers as a map. Repeated keys keep their first value;
// body lines without a key are dropped.
func (e Event) Map() map[string]any {
	m := make(map[string]any, len(e.headers))
	for _, h := range e.headers {
		if h.Key == "" {
			continue
		}
		if _, seen := m[h.Key]; seen {
			continue
		}
		m[h.Key] = h.Value
	}
	return m
}

// String renders the event back into AMI wire format, including the
// terminating blank line.
func (e Event) String() string {
	var b strings.Builder
	for _, h := range e.headers {
		if h.Key == "" {
			b.WriteString(h.Value)
		} else {
			b.WriteString(h.Key)
			b.WriteString(": ")
			b.WriteString(h.Value)
		}
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}
