package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KranzL/shipmates-oss/match-relay/relay"
)

const (
	wsReadDeadline  = 60 * time.Second
	wsPingInterval  = 30 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsMaxFrameSize  = 64 << 10
)

// historyStatus is the part of the history store the health check needs.
type historyStatus interface {
	Ping(ctx context.Context) error
}

type server struct {
	cfg       Config
	gateway   *relay.Gateway
	upgrader  websocket.Upgrader
	wsLimiter *ipLimiters
	clientIP  clientIP
	history   historyStatus
	drops     func() int64
}

func newServer(cfg Config, gateway *relay.Gateway) *server {
	s := &server{
		cfg:       cfg,
		gateway:   gateway,
		wsLimiter: newIPLimiters(6*time.Second, 10),
		clientIP:  newClientIP(cfg.TrustedProxy),
		drops:     func() int64 { return 0 },
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:       s.checkOrigin,
		EnableCompression: true,
	}
	return s
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(s.cfg.AllowedOrigins) == 0 {
		if s.cfg.RequireOriginCheck && origin != "" {
			return false
		}
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// wsTransport writes gateway events as JSON text frames.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) WriteEvent(ev relay.Event) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline)); err != nil {
		return err
	}
	return t.conn.WriteJSON(ev)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP.extract(r)
	if !s.wsLimiter.Allow(ip) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.EnableWriteCompression(true)
	conn.SetReadLimit(wsMaxFrameSize)

	c, err := s.gateway.Attach(&wsTransport{conn: conn})
	if err != nil {
		if errors.Is(err, relay.ErrConnectionLimit) {
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteDeadline))
		}
		log.Printf("rejecting connection from %s: %v", ip, err)
		return
	}
	log.Printf("new connection: %s", c.ID)
	defer func() {
		s.gateway.Disconnect(c.ID)
		log.Printf("disconnected: %s", c.ID)
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})
	go keepAlive(conn, c.Done)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadDeadline)); err != nil {
			return
		}
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := relay.DecodeEvent(msg)
		if err != nil {
			log.Printf("dropping frame from %s: %v", c.ID, err)
			continue
		}
		s.gateway.Handle(c.ID, ev)
	}
}

func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	database := "disabled"
	if s.history != nil {
		database = "ok"
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.history.Ping(ctx); err != nil {
			status = "degraded"
			database = "unreachable"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status":       status,
		"service":      "match-relay",
		"rooms":        s.gateway.Rooms(),
		"connections":  s.gateway.ActiveConnections(),
		"persistDrops": s.drops(),
		"database":     database,
	})
}
