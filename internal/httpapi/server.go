package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/imsgrelay/internal/config"
	"github.com/ent0n29/imsgrelay/internal/events"
	"github.com/ent0n29/imsgrelay/internal/observability"
	"github.com/ent0n29/imsgrelay/internal/poller"
)

// Relay is the poller surface the ops API drives.
type Relay interface {
	Status() poller.Status
	Ready() bool
	Trigger()
}

// Queue reports outbound parts not yet sent.
type Queue interface {
	Pending() int
}

type Server struct {
	cfg      config.Config
	relay    Relay
	queue    Queue
	bus      *events.Bus
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader

	closeOnce sync.Once
	done      chan struct{}
}

func New(cfg config.Config, relay Relay, queue Queue, bus *events.Bus, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		relay:   relay,
		queue:   queue,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only attach from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Close ends open event streams. Hijacked websocket connections are not
// tracked by http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/preflight", s.handlePreflight)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/poll", s.handlePoll)
	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"dry_run": s.cfg.DryRun,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.relay == nil || !s.relay.Ready() {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "cursor not established yet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"cursor": s.relay.Status().Cursor,
	})
}

type statusResponse struct {
	poller.Status
	ChatID       int64  `json:"chat_id"`
	Source       string `json:"transcript_source"`
	PolicyMode   string `json:"policy_mode"`
	DryRun       bool   `json:"dry_run"`
	PendingParts int    `json:"pending_parts"`
	Subscribers  int    `json:"event_subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}
	resp := statusResponse{
		Status:     s.relay.Status(),
		ChatID:     s.cfg.ChatID,
		Source:     s.cfg.TranscriptSource,
		PolicyMode: s.cfg.PolicyMode,
		DryRun:     s.cfg.DryRun,
	}
	if s.queue != nil {
		resp.PendingParts = s.queue.Pending()
	}
	if s.bus != nil {
		resp.Subscribers = s.bus.Subscribers()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, Preflight(s.cfg))
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.relay.Trigger()
	s.logger.Info("poll triggered", zap.String("reason", strings.TrimSpace(req.Reason)))
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "triggered"})
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "event bus not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing the conn unblocks the read loop below.
		defer conn.Close()
		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case evt, ok := <-sub:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(evt); err != nil {
					s.logger.Debug("event stream write failed", zap.Error(err))
					return
				}
			}
		}
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})
	// Inbound frames carry nothing; read only to observe pongs and close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-writerDone
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
