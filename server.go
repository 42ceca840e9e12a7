package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mrexodia/jobsupervisor/config"
	"github.com/mrexodia/jobsupervisor/console"
	"github.com/mrexodia/jobsupervisor/supervisor"
)

// ChildLister reports the state of the supervised cohort
type ChildLister interface {
	Children() []supervisor.ChildStatus
}

// Server is the HTTP service that runs next to the cohort
type Server struct {
	children ChildLister
	logs     *LogHub
	log      *console.Logger
	addr     string
	upgrader websocket.Upgrader
	username string // BasicAuth username (empty = no username required)
	password string // BasicAuth password (empty = no auth)

	listener net.Listener
	http     *http.Server
}

// NewServer creates a new web server
func NewServer(cfg config.Config, children ChildLister, logs *LogHub, log *console.Logger) *Server {
	var username, password string
	if cfg.Authorization != "" {
		if idx := strings.Index(cfg.Authorization, ":"); idx > 0 {
			username = cfg.Authorization[:idx]
			password = cfg.Authorization[idx+1:]
		} else {
			password = cfg.Authorization
		}
	}

	return &Server{
		children: children,
		logs:     logs,
		log:      log,
		addr:     cfg.Address(),
		upgrader: websocket.Upgrader{},
		username: username,
		password: password,
	}
}

// basicAuthMiddleware wraps the entire handler with BasicAuth authentication
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.password == "" {
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || username != s.username || password != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Job Supervisor"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed and authenticated handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/hello", s.hello)
	mux.HandleFunc("GET /api/children", s.listChildren)
	mux.HandleFunc("GET /api/children/{index}/logs/{stream}", s.streamLogs)
	return s.basicAuthMiddleware(mux)
}

// Listen binds the listening socket. Readiness may be signalled once it
// returns without error.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s (another instance may be running): %w", s.addr, err)
	}
	s.listener = listener
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Serve serves requests until Shutdown
func (s *Server) Serve() error {
	s.log.Printf("Greeter server listening on http://%s", s.Addr())
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// hello answers the greeting request
func (s *Server) hello(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Hello " + name})
}

// listChildren returns every child with its binding state
func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.children.Children())
}

// streamLogs streams one child stream via WebSocket
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")
	if stream != streamStdout && stream != streamStderr {
		http.Error(w, "Stream must be stdout or stderr", http.StatusBadRequest)
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 || index >= len(s.children.Children()) {
		http.Error(w, fmt.Sprintf("child %q not found", r.PathValue("index")), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	history, ch, unsubscribe := s.logs.Follow(index, stream)
	defer unsubscribe()

	if len(history) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, history); err != nil {
			return
		}
	}

	// A reader is needed to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
