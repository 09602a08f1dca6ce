package httpapi_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/asterisk-dashboard/internal/ami"
	"github.com/sweeney/asterisk-dashboard/internal/correlator"
	"github.com/sweeney/asterisk-dashboard/internal/gateway"
	"github.com/sweeney/asterisk-dashboard/internal/httpapi"
	"github.com/sweeney/asterisk-dashboard/internal/hub"
	"github.com/sweeney/asterisk-dashboard/internal/state"
)

type recordingSender struct {
	mu    sync.Mutex
	names []string
}

func (s *recordingSender) Send(a ami.Action, _ ami.ResponseFunc) error {
	s.mu.Lock()
	s.names = append(s.names, a.Name)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

func newGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	store := state.New()
	gw := gateway.New(store, correlator.New(store), hub.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gw.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return gw
}

func settle(t *testing.T, gw *gateway.Gateway) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := gw.Status(ctx)
	require.NoError(t, err)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	gw := newGateway(t)
	r := httpapi.NewRouter(gw, httpapi.Options{})

	rr := do(t, r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"pbxConnected":false,"activeCallCount":0,"peerCount":0}`, rr.Body.String())

	gw.OnConnected(&recordingSender{})
	gw.OnEvent(ami.NewEvent("Event", "Newchannel", "Uniqueid", "1.1", "Linkedid", "1.1", "Channel", "PJSIP/2001-00000001", "CallerIDNum", "2001"))
	settle(t, gw)

	rr = do(t, r, http.MethodGet, "/health")
	assert.JSONEq(t, `{"pbxConnected":true,"activeCallCount":1,"peerCount":0}`, rr.Body.String())
}

func TestRefresh(t *testing.T) {
	gw := newGateway(t)
	r := httpapi.NewRouter(gw, httpapi.Options{})

	rr := do(t, r, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not connected")

	sender := &recordingSender{}
	gw.OnConnected(sender)
	settle(t, gw)

	rr = do(t, r, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{
		"Events", "SIPpeers", "Command", "CoreShowChannels",
		"SIPpeers", "Command", "CoreShowChannels",
	}, sender.sent())

	rr = do(t, r, http.MethodGet, "/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStateAndView(t *testing.T) {
	gw := newGateway(t)
	r := httpapi.NewRouter(gw, httpapi.Options{})

	gw.OnConnected(&recordingSender{})
	gw.OnEvent(ami.NewEvent("Event", "PeerStatus", "Peer", "PJSIP/2001", "PeerStatus", "Reachable"))
	gw.OnEvent(ami.NewEvent("Event", "Newchannel", "Uniqueid", "1.1", "Linkedid", "1.1", "Channel", "PJSIP/2001-00000001", "CallerIDNum", "2001", "Exten", "2002", "ChannelStateDesc", "Ring"))
	settle(t, gw)

	rr := do(t, r, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap gateway.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.True(t, snap.Connection.Connected)
	require.Len(t, snap.Calls, 1)
	assert.Equal(t, "1.1", snap.Calls[0].ID)
	require.Len(t, snap.Peers, 1)
	assert.Equal(t, "PJSIP/2001", snap.Peers[0].ID)

	rr = do(t, r, http.MethodGet, "/api/view")
	require.Equal(t, http.StatusOK, rr.Code)
	var v gateway.View
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	require.Len(t, v.Calls, 1)
	assert.Equal(t, "1.1", v.Calls[0].LinkedID)
	require.Len(t, v.Extensions, 1)
	assert.Equal(t, "2001", v.Extensions[0].Extension)
	assert.NotNil(t, v.Extensions[0].Call)
}

func TestEventStream(t *testing.T) {
	gw := newGateway(t)
	srv := httptest.NewServer(httpapi.NewRouter(gw, httpapi.Options{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(events) < 2 {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{correlator.EventConnectionStatus, correlator.EventInitialState}, events)
}

func TestCORSPreflight(t *testing.T) {
	gw := newGateway(t)
	r := httpapi.NewRouter(gw, httpapi.Options{CORSOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/refresh", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>dashboard</html>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0644))

	gw := newGateway(t)
	r := httpapi.NewRouter(gw, httpapi.Options{StaticDir: dir})

	rr := do(t, r, http.MethodGet, "/app.js")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log(1)", rr.Body.String())

	rr = do(t, r, http.MethodGet, "/extensions/2001")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "dashboard")

	rr = do(t, r, http.MethodGet, "/api/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNoStaticDir(t *testing.T) {
	gw := newGateway(t)
	r := httpapi.NewRouter(gw, httpapi.Options{})

	rr := do(t, r, http.MethodGet, "/")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
