package ami

import (
	"bufio"
	"io"
	"strings"
)

const endCommand = "--END COMMAND--"

// maxLineSize bounds a single AMI line. Command output and long
// variable dumps can exceed bufio's 64KiB default.
const maxLineSize = 1 << 20

// Parser reads an AMI byte stream and emits Events.
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Parser{scanner: s}
}

// Next reads the next event from the stream.
// Returns the event and true if an event was read, or a zero Event and false at EOF.
func (p *Parser) Next() (Event, bool) {
	var headers []Header
	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		// Blank line marks end of an event block
		if line == "" {
			if len(headers) > 0 {
				return Event{headers: headers}, true
			}
			continue
		}

		idx := strings.Index(line, ": ")
		if idx < 0 {
			// Banner lines have no ": " — skip them unless we're already
			// collecting headers
			if len(headers) == 0 {
				continue
			}
			headers = append(headers, Header{Key: "", Value: line})
			continue
		}

		h := Header{Key: line[:idx], Value: line[idx+2:]}
		headers = append(headers, h)

		if len(headers) == 1 && strings.EqualFold(h.Key, "Response") && strings.EqualFold(h.Value, "Follows") {
			return p.readFollows(headers), true
		}
	}

	// EOF — return any pending event
	if len(headers) > 0 {
		return Event{headers: headers}, true
	}
	return Event{}, false
}

// readFollows consumes a legacy command reply. The body is free text that may
// contain blank lines, so the block ends at the --END COMMAND-- marker rather
// than at the first empty line.
func (p *Parser) readFollows(headers []Header) Event {
	inBody := false
	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")
		if strings.HasSuffix(line, endCommand) {
			if body := strings.TrimSuffix(line, endCommand); strings.TrimSpace(body) != "" {
				headers = append(headers, Header{Key: "", Value: body})
			}
			break
		}
		if !inBody {
			if idx := strings.Index(line, ": "); idx > 0 && isHeaderKey(line[:idx]) {
				headers = append(headers, Header{Key: line[:idx], Value: line[idx+2:]})
				continue
			}
			inBody = true
		}
		headers = append(headers, Header{Key: "", Value: line})
	}
	return Event{headers: headers}
}

// isHeaderKey reports whether s looks like an AMI header name (Privilege,
// ActionID) rather than the start of command output.
func isHeaderKey(s string) bool {
	if s == "" || s[0] == ' ' {
		return false
	}
	for _, r := range s {
		if !(r == '-' || r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// ParseAll reads all events from the stream and returns them.
func (p *Parser) ParseAll() []Event {
	var events []Event
	for {
		evt, ok := p.Next()
		if !ok {
			break
		}
		events = append(events, evt)
	}
	return events
}

// Err returns the first non-EOF error encountered by the underlying scanner.
func (p *Parser) Err() error {
	return p.scanner.Err()
}

// ParseBytes is a convenience function that parses all events from a byte slice.
func ParseBytes(data []byte) []Event {
	return NewParser(strings.NewReader(string(data))).ParseAll()
}

// CommandOutput returns the text lines of a Command action reply. Asterisk 14+
// sends one Output header per line; older versions send a Follows body.
func CommandOutput(resp Event) []string {
	if out := resp.GetAll("Output"); len(out) > 0 {
		return out
	}
	var lines []string
	for _, h := range resp.headers {
		if h.Key == "" {
			lines = append(lines, h.Value)
		}
	}
	return lines
}
