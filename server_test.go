package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mrexodia/jobsupervisor/config"
	"github.com/mrexodia/jobsupervisor/console"
	"github.com/mrexodia/jobsupervisor/supervisor"
)

type fakeChildren []supervisor.ChildStatus

func (f fakeChildren) Children() []supervisor.ChildStatus { return f }

func newTestServer(t *testing.T, cfg config.Config, children ChildLister, logs *LogHub) *httptest.Server {
	t.Helper()
	s := NewServer(cfg, children, logs, console.NewWriter("Server", &bytes.Buffer{}))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHello(t *testing.T) {
	ts := newTestServer(t, config.Default(), fakeChildren{}, NewLogHub())

	resp, err := http.Get(ts.URL + "/api/hello?name=World")
	if err != nil {
		t.Fatalf("GET /api/hello: %v", err)
	}
	defer resp.Body.Close()

	var reply struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Message != "Hello World" {
		t.Errorf("Expected Hello World, got: %q", reply.Message)
	}
}

func TestListChildren(t *testing.T) {
	children := fakeChildren{
		{Index: 0, PID: 100, State: supervisor.Bound},
		{Index: 1, PID: 101, State: supervisor.Unbound, Exited: true, ExitCode: 2},
	}
	ts := newTestServer(t, config.Default(), children, NewLogHub())

	resp, err := http.Get(ts.URL + "/api/children")
	if err != nil {
		t.Fatalf("GET /api/children: %v", err)
	}
	defer resp.Body.Close()

	var got []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 children, got: %d", len(got))
	}
	if got[0]["state"] != "bound" || got[1]["state"] != "unbound" {
		t.Errorf("Unexpected states: %v, %v", got[0]["state"], got[1]["state"])
	}
	if got[1]["exitCode"] != float64(2) {
		t.Errorf("Expected exit code 2, got: %v", got[1]["exitCode"])
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.Default()
	cfg.Authorization = "admin:secret"
	ts := newTestServer(t, cfg, fakeChildren{}, NewLogHub())

	resp, err := http.Get(ts.URL + "/api/hello")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/hello", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with auth: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got: %d", resp.StatusCode)
	}
}

func TestStreamLogs_BadRequests(t *testing.T) {
	ts := newTestServer(t, config.Default(), fakeChildren{{Index: 0}}, NewLogHub())

	cases := map[string]int{
		"/api/children/0/logs/stdin":  http.StatusBadRequest,
		"/api/children/1/logs/stdout": http.StatusNotFound,
		"/api/children/x/logs/stdout": http.StatusNotFound,
	}
	for path, want := range cases {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("Expected %d for %s, got: %d", want, path, resp.StatusCode)
		}
	}
}

func TestStreamLogs_HistoryThenLive(t *testing.T) {
	logs := NewLogHub()
	logs.OnOutputLine(0, "before")
	ts := newTestServer(t, config.Default(), fakeChildren{{Index: 0}}, logs)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/children/0/logs/stdout"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if string(msg) != "before\n" {
		t.Errorf("Expected history before, got: %q", msg)
	}

	// The subscription is registered after the history is sent, so keep
	// writing until the live line arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(20 * time.Millisecond):
				logs.OnOutputLine(0, "after")
			}
		}
	}()

	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read live: %v", err)
	}
	if string(msg) != "after\n" {
		t.Errorf("Expected live line after, got: %q", msg)
	}
}

func TestServerListenAndShutdown(t *testing.T) {
	cfg := config.Default()
	s := NewServer(cfg, fakeChildren{}, NewLogHub(), console.NewWriter("Server", &bytes.Buffer{}))
	s.addr = "127.0.0.1:0"
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	resp, err := http.Get("http://" + s.Addr() + "/api/hello?name=x")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if err := s.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Expected clean serve exit, got: %v", err)
	}

	// A second listener on the same address must fail
	first := NewServer(cfg, fakeChildren{}, NewLogHub(), console.NewWriter("Server", &bytes.Buffer{}))
	first.addr = "127.0.0.1:0"
	if err := first.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer first.listener.Close()
	busy := NewServer(cfg, fakeChildren{}, NewLogHub(), console.NewWriter("Server", &bytes.Buffer{}))
	busy.addr = first.Addr()
	if err := busy.Listen(); err == nil {
		busy.listener.Close()
		t.Errorf("Expected listen on a busy port to fail")
	}
}
