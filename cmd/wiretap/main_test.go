package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sweeney/asterisk-dashboard/internal/ami"
	"github.com/sweeney/asterisk-dashboard/internal/redact"
)

func TestSanitizeLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Secret: hunter2", "Secret: " + redact.Marker},
		{"CallerIDNum: 07700900123", "CallerIDNum: ***0123"},
		{"CallerIDNum: 1986", "CallerIDNum: 1986"},
		{"ConnectedLineNum: 07700900123\r", "ConnectedLineNum: ***0123\r"},
		{"Address: 192.168.1.10:5060", "Address: 10.0.0.1:5060"},
		{"Address: 127.0.0.1:5060", "Address: 127.0.0.1:5060"},
		{"Asterisk Call Manager/11.0.0", "Asterisk Call Manager/11.0.0"},
		{"Channel: PJSIP/21-00000019", "Channel: PJSIP/21-00000019"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeLine(tt.in); got != tt.want {
			t.Errorf("sanitizeLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeEvent(t *testing.T) {
	evt := sanitizeEvent(ami.NewEvent(
		"Event", "PeerStatus",
		"Peer", "PJSIP/2001",
		"Address", "203.0.113.7:5060",
		"AccountCode", "billing",
	))

	if evt.Get("Address") != "10.0.0.1:5060" {
		t.Errorf("expected anonymized address, got %s", evt.Get("Address"))
	}
	if evt.Get("AccountCode") != redact.Marker {
		t.Errorf("expected redacted account code, got %s", evt.Get("AccountCode"))
	}
	if evt.Type() != "PeerStatus" || evt.Get("Peer") != "PJSIP/2001" {
		t.Errorf("unexpected event %v", evt.Map())
	}
}

func TestSanitizeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.raw")
	original := "Event: Newchannel\nCallerIDNum: 07700900123\nSecret: x\n\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := sanitizeFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil || string(bak) != original {
		t.Fatalf("expected untouched backup, got %q (%v)", bak, err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(got), "07700900123") || strings.Contains(string(got), "Secret: x") {
		t.Errorf("capture not sanitized: %q", got)
	}
	events := ami.ParseBytes(got)
	if len(events) != 1 || events[0].Get("CallerIDNum") != "***0123" {
		t.Errorf("sanitized capture should still parse, got %v", events)
	}
}
