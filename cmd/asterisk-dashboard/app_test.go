package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/asterisk-dashboard/internal/config"
	"github.com/sweeney/asterisk-dashboard/internal/gateway"
	"github.com/sweeney/asterisk-dashboard/internal/publisher"
)

func fixturesDir() string {
	return filepath.Join("..", "..", "testdata", "fixtures")
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(fixturesDir(), name))
	require.NoError(t, err)
	return data
}

// fakePBX accepts one AMI connection, replays a capture (banner and login
// reply included) and then holds the connection open.
func fakePBX(t *testing.T, data []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := conn.Write(data); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, conn)
	}()
	return ln.Addr().String()
}

func testConfig(t *testing.T, amiAddr string) *config.Config {
	t.Helper()
	host, port, err := net.SplitHostPort(amiAddr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	debug := false
	return &config.Config{
		Env:         config.EnvDevelopment,
		DebugEvents: &debug,
		AMI: config.AMIConfig{
			Host:        host,
			Port:        portNum,
			Username:    "admin",
			Secret:      "s3cret",
			DialTimeout: 2 * time.Second,
			Reconnect:   config.ReconnectConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
		},
		Log:  config.LogConfig{Level: "info", Format: "json"},
		MQTT: config.MQTTConfig{Enabled: true, TopicPrefix: "asterisk"},
	}
}

type running struct {
	app  *app
	url  string
	stop func()
}

func startApp(t *testing.T, cfg *config.Config, pub publisher.Publisher) *running {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	a := newApp(cfg, pub)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, ln, "") }()

	r := &running{app: a, url: "http://" + ln.Addr().String()}
	r.stop = func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not shut down")
		}
	}
	t.Cleanup(r.stop)
	return r
}

func waitForMessages(t *testing.T, pub *publisher.MockPublisher, n int) []publisher.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(pub.Messages()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d messages, got %d: %v", n, len(pub.Messages()), pub.Topics())
		}
		time.Sleep(10 * time.Millisecond)
	}
	return pub.Messages()
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// --- Answered outbound (1986 → 21) through the whole service ---

func TestAnsweredOutboundEndToEnd(t *testing.T) {
	pub := publisher.NewMockPublisher()
	r := startApp(t, testConfig(t, fakePBX(t, loadFixture(t, "answered-outbound.raw"))), pub)

	msgs := waitForMessages(t, pub, 11)
	topics := pub.Topics()

	assert.Equal(t, "asterisk/status", topics[0])
	assert.True(t, msgs[0].Retain, "status is retained")
	assert.JSONEq(t, `{"connected":true}`, string(dataOf(t, msgs[0])))

	assert.Equal(t, "asterisk/call/1770888509.40/start", topics[1])
	assert.Equal(t, "asterisk/call/1770888509.41/end", topics[9])
	assert.Equal(t, "asterisk/call/1770888509.40/end", topics[10])
	for _, topic := range topics[1:] {
		assert.True(t, strings.HasPrefix(topic, "asterisk/call/1770888509.4"), topic)
	}

	var st gateway.Status
	getJSON(t, r.url+"/health", &st)
	assert.True(t, st.PBXConnected)
	assert.Equal(t, 0, st.ActiveCallCount)
}

func TestMidCallSnapshotOverHTTP(t *testing.T) {
	data := loadFixture(t, "answered-outbound.raw")
	// Cut the capture before the first Hangup so both legs are live.
	cut := strings.Index(string(data), "Event: Hangup")
	require.Positive(t, cut)

	pub := publisher.NewMockPublisher()
	r := startApp(t, testConfig(t, fakePBX(t, data[:cut])), pub)
	waitForMessages(t, pub, 9)

	var v gateway.View
	getJSON(t, r.url+"/api/view", &v)
	require.Len(t, v.Calls, 1, "two legs merge into one call")
	assert.Equal(t, "1770888509.40", v.Calls[0].LinkedID)
	assert.Equal(t, "21", v.Calls[0].Destination)
	assert.Equal(t, 2, v.Calls[0].Legs)
}

func TestMQTTDisabled(t *testing.T) {
	cfg := testConfig(t, fakePBX(t, loadFixture(t, "answered-outbound.raw")))
	cfg.MQTT.Enabled = false

	r := startApp(t, cfg, nil)
	assert.Nil(t, r.app.mirror)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var st gateway.Status
		getJSON(t, r.url+"/health", &st)
		if st.PBXConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReloadTogglesDebug(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	a := newApp(cfg, nil)
	assert.False(t, a.gw.Debug())

	on := true
	next := *cfg
	next.DebugEvents = &on
	next.Log.Level = "debug"
	a.reload(&next)
	assert.True(t, a.gw.Debug())
}

func dataOf(t *testing.T, msg publisher.Message) json.RawMessage {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &env))
	return env.Data
}
