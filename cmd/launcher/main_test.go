package main

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mrexodia/jobsupervisor/config"
)

func testConfig(t *testing.T, serverURL string) config.Config {
	t.Helper()
	hostport := strings.TrimPrefix(serverURL, "http://")
	idx := strings.LastIndex(hostport, ":")
	port, err := strconv.Atoi(hostport[idx+1:])
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	cfg := config.Default()
	cfg.Host = hostport[:idx]
	cfg.Port = port
	return cfg
}

func TestGreet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/hello" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"message":"Hello ` + r.URL.Query().Get("name") + `"}`))
	}))
	defer server.Close()

	reply, err := greet(testConfig(t, server.URL), "World")
	if err != nil {
		t.Fatalf("greet: %v", err)
	}
	if reply != "Hello World" {
		t.Errorf("Expected Hello World, got: %q", reply)
	}
}

func TestTimedGreetMeasuresTheCall(t *testing.T) {
	const delay = 100 * time.Millisecond
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Write([]byte(`{"message":"Hello"}`))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	time.Sleep(time.Second) // time spent before the call must not count

	_, elapsed, err := timedGreet(cfg, "World")
	if err != nil {
		t.Fatalf("timedGreet: %v", err)
	}
	if elapsed < delay || elapsed >= time.Second {
		t.Errorf("Expected elapsed around %v, got: %v", delay, elapsed)
	}
}

func TestGreet_SendsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Authorization = "admin:secret"
	if _, err := greet(cfg, "x"); err != nil {
		t.Fatalf("greet with credentials: %v", err)
	}

	cfg.Authorization = ""
	if _, err := greet(cfg, "x"); err == nil {
		t.Errorf("Expected error for 401 reply")
	}
}

func TestSplitAuthorization(t *testing.T) {
	cases := map[string][2]string{
		"user:pass": {"user", "pass"},
		"secret":    {"", "secret"},
		":secret":   {"", ":secret"},
		"u:p:q":     {"u", "p:q"},
	}
	for in, want := range cases {
		user, pass := splitAuthorization(in)
		if user != want[0] || pass != want[1] {
			t.Errorf("splitAuthorization(%q) = %q, %q; want %q, %q", in, user, pass, want[0], want[1])
		}
	}
}
