// Package dashboard serves a local WebSocket feed of the field client's state.
//
// Clients connected to /ws receive stats, sync_status, and connectivity
// messages as they change. A newly connected client first receives the latest
// message of each type so it can render without waiting for the next change.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	MessageTypeStats        MessageType = "stats"
	MessageTypeSyncStatus   MessageType = "sync_status"
	MessageTypeConnectivity MessageType = "connectivity"
)

// snapshotOrder is the order in which cached messages greet a new client.
var snapshotOrder = []MessageType{MessageTypeConnectivity, MessageTypeSyncStatus, MessageTypeStats}

// Message is one frame on the feed.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ConnectivityData is the payload of a connectivity message.
type ConnectivityData struct {
	Online bool `json:"online"`
}

type Config struct {
	// Addr is the listen address, for example "127.0.0.1:8787".
	Addr   string
	Logger *zap.Logger

	// WriteTimeout bounds a single frame write. Defaults to 5s.
	WriteTimeout time.Duration
}

type Server struct {
	cfg    Config
	logger *zap.Logger
	hub    *hub

	ln   net.Listener
	http *http.Server

	ctx     context.Context
	cancel  context.CancelFunc
	serving sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		hub:    newHub(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dashboard: listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln

	routes := http.NewServeMux()
	routes.HandleFunc("GET /ws", s.serveFeed)
	routes.HandleFunc("GET /health", s.serveHealth)
	routes.HandleFunc("GET /{$}", s.serveIndex)

	s.http = &http.Server{
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.serving.Add(1)
	go func() {
		defer s.serving.Done()
		s.logger.Info("Dashboard listening", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Dashboard stopped serving", zap.Error(err))
		}
	}()
	return nil
}

// Stop disconnects every client, waits for their writers, and shuts the HTTP
// server down.
func (s *Server) Stop() error {
	s.hub.shutdown()
	s.hub.active.Wait()
	s.cancel()

	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.serving.Wait()
	if err != nil {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	s.logger.Info("Dashboard stopped")
	return nil
}

// Publish encodes data as the payload of a message of type t and sends it to
// every client.
func (s *Server) Publish(t MessageType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("dashboard: encode %s: %w", t, err)
	}
	return s.Broadcast(Message{Type: t, Data: raw})
}

// Broadcast sends msg to every client and keeps it for clients that connect
// later. A zero Timestamp is set to now.
func (s *Server) Broadcast(msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dashboard: encode frame: %w", err)
	}
	if n := s.hub.publish(msg.Type, frame); n > 0 {
		s.logger.Warn("Dropped slow dashboard clients",
			zap.String("type", string(msg.Type)),
			zap.Int("dropped", n),
		)
	}
	return nil
}

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("Dashboard upgrade failed", zap.Error(err))
		return
	}

	c := s.hub.add(conn)
	if c == nil {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.hub.active.Done()
	s.logger.Debug("Dashboard client connected", zap.String("remote", r.RemoteAddr))

	// The feed is one-way; CloseRead discards client frames and ends ctx when
	// the peer goes away.
	ctx := conn.CloseRead(s.ctx)
	s.pump(ctx, c)
	s.logger.Debug("Dashboard client disconnected", zap.String("remote", r.RemoteAddr))
}

// pump writes queued frames to c until the hub closes its queue or the
// connection ends.
func (s *Server) pump(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			s.hub.remove(c)
			_ = c.conn.CloseNow()
			return

		case frame, ok := <-c.send:
			if !ok {
				if c.closeCode != 0 {
					_ = c.conn.Close(c.closeCode, c.closeReason)
				} else {
					_ = c.conn.CloseNow()
				}
				return
			}
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.hub.remove(c)
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Clients: s.hub.count()})
}

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<title>preshift dashboard</title>
<h1>preshift</h1>
<p>Live feed at <code>ws://{{.Host}}/ws</code> with message types
{{range $i, $t := .Types}}{{if $i}}, {{end}}<code>{{$t}}</code>{{end}}.</p>
<p><a href="/health">health</a></p>
`))

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexPage.Execute(w, struct {
		Host  string
		Types []MessageType
	}{r.Host, snapshotOrder})
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) ClientCount() int {
	return s.hub.count()
}
