package livesock

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"silowatch/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

// Server exposes the hub over HTTP at /live. Disabled servers are inert:
// Start returns immediately and Broadcast on the hub is still safe.
type Server struct {
	log logx.Logger
	cfg Config
	hub *Hub

	upgrader websocket.Upgrader

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

func NewServer(cfg Config, log logx.Logger) *Server {
	hub := NewHub(log)
	return &Server{
		log: log,
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Hub returns the broadcast hub. Valid even when the server is disabled.
func (s *Server) Hub() *Hub { return s.hub }

// Addr returns the bound listen address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Start() error {
	go s.hub.Run()
	if !s.cfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8090"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("live socket server stopped with error", logx.Err(err))
		}
	}()

	s.log.Info("live socket server started", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
	}
	s.hub.Stop()
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("live socket upgrade failed", logx.Err(err))
		return
	}
	c := newClient(s.hub, conn)
	s.hub.register <- c
	go c.writePump()
	go c.readPump()
}
