// Package widget serves the floating chat widget and the WebSocket it talks to.
package widget

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"FhirChat/internal/conversation"
)

//go:embed static/index.html
var indexHTML []byte

// Channel is the transcript channel name for widget conversations.
const Channel = "web"

// Archive stores transcripts of widget conversations.
type Archive interface {
	conversation.Recorder
	Begin(ctx context.Context, id, channel string, startedAt time.Time) error
}

// Server hosts the widget page and one conversation per WebSocket connection.
type Server struct {
	responder conversation.Responder
	archive   Archive
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	// live tracks handlers that own a hijacked connection; http.Server.Shutdown
	// does not wait for those.
	live    sync.WaitGroup
	mu      sync.Mutex
	clients map[*client]struct{}
	closing bool
}

type Option func(*Server)

// WithArchive records every widget conversation.
func WithArchive(archive Archive) Option {
	return func(s *Server) {
		s.archive = archive
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a widget server answering through responder.
func NewServer(responder conversation.Responder, opts ...Option) *Server {
	s := &Server{
		responder: responder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the HTTP routes of the widget.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. On shutdown open
// WebSocket connections are closed and their in-flight replies awaited, so
// nothing is archived after Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.closeClients)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("widget server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("widget server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down widget server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down widget server: %w", err)
		}
		return s.waitClients(shutdownCtx)
	}
}

func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	s.closing = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (s *Server) waitClients(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for widget connections: %w", ctx.Err())
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Added while the request is still active, so before Shutdown returns.
	s.live.Add(1)
	defer s.live.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	opts := []conversation.Option{conversation.WithLogger(s.logger)}
	if s.archive != nil {
		opts = append(opts, conversation.WithRecorder(s.archive))
	}
	conv := conversation.New(s.responder, opts...)

	c := newClient(conn, conv, s.logger.With("conversation_id", conv.ID()))
	if !s.track(c) {
		c.close()
		return
	}
	defer s.untrack(c)

	if s.archive != nil {
		if err := s.archive.Begin(r.Context(), conv.ID(), Channel, conv.StartedAt()); err != nil {
			s.logger.Warn("failed to archive conversation", "conversation_id", conv.ID(), "error", err)
		}
	}

	c.serve(r.Context())
}
