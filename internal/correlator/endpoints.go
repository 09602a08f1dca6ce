package correlator

import "regexp"

// endpointRow matches one endpoint line of "pjsip list endpoints", e.g.
//
//	Endpoint:  2001/2001    Not in use    0 of inf
var endpointRow = regexp.MustCompile(`(?i)Endpoint:\s+([^\s/]+)(?:/\S+)?\s+(Not in use|Unavailable|In use|Busy|Ringing|Idle)(?:\s+|$)`)

func parseEndpointLine(line string) (endpointLine, bool) {
	m := endpointRow.FindStringSubmatch(line)
	if m == nil {
		return endpointLine{}, false
	}
	return endpointLine{name: m[1], status: m[2]}, true
}
