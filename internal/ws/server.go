package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stream-pulse/pulse/internal/config"
	"github.com/stream-pulse/pulse/internal/dispatch"
	"github.com/stream-pulse/pulse/internal/ingest"
	"github.com/stream-pulse/pulse/internal/procstats"
	"github.com/stream-pulse/pulse/internal/session"
	"github.com/stream-pulse/pulse/internal/telemetry"
)

var (
	ErrTooManyConnections = errors.New("ws: too many connections")
	// ErrShutdown is the close reason for sessions ended by a server
	// shutdown rather than by the upstream.
	ErrShutdown = errors.New("ws: server shutting down")
)

type Server struct {
	mu     sync.RWMutex
	config *config.Config

	dispatcher *dispatch.Dispatcher
	registry   *session.Registry
	metrics    *telemetry.Metrics
	health     *ingest.Health
	procStats  *procstats.Sampler
	log        *zap.SugaredLogger

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	started        time.Time

	clientsMu sync.Mutex
	clients   map[*client]bool
}

// NewServer wires the HTTP surface to the dispatcher's registry. health and
// stats may be nil.
func NewServer(cfg *config.Config, d *dispatch.Dispatcher, health *ingest.Health, stats *procstats.Sampler, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		config:         cfg,
		dispatcher:     d,
		registry:       d.Registry(),
		metrics:        d.Metrics(),
		health:         health,
		procStats:      stats,
		log:            log,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		started:        time.Now(),
		clients:        make(map[*client]bool),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	s.registry.SetLimit(cfg.Server.MaxConnections)

	return s
}

// SetConfig applies a reloaded config. Only the connection limit and the
// queue size of sessions created afterwards change; everything else needs a
// restart.
func (s *Server) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	s.registry.SetLimit(cfg.Server.MaxConnections)
}

func (s *Server) cfg() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.metrics.Handler())
}

// Handler returns a mux with every route behind the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.registry.Full() {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}
	if s.health != nil && s.health.Failed() {
		http.Error(w, "upstream failed", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("ws upgrade error", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, err := s.AddClient(conn, r.RemoteAddr, r.URL.Query().Get("filter"))
	if err != nil {
		s.log.Warnw("rejecting ws client", "remote", r.RemoteAddr, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.log.Infow("ws client connected", "session", c.sess.ID(), "remote", r.RemoteAddr)
}

// AddClient registers a session for conn and starts its pumps. pattern is
// the initial filter; empty means match everything.
func (s *Server) AddClient(conn *websocket.Conn, remote, pattern string) (*client, error) {
	cfg := s.cfg()
	sess := session.New(uuid.NewString(), session.Options{
		QueueSize:    cfg.Stream.QueueSize,
		TickInterval: cfg.Stream.TickInterval,
		Remote:       remote,
	})
	if pattern != "" {
		sess.SetPredicate(pattern)
	}

	if err := s.registry.Register(sess); err != nil {
		sess.Close()
		if errors.Is(err, session.ErrRegistryFull) {
			return nil, ErrTooManyConnections
		}
		return nil, err
	}

	limit := rate.Inf
	if cfg.Stream.ControlRate > 0 {
		limit = rate.Limit(cfg.Stream.ControlRate)
	}
	burst := cfg.Stream.ControlBurst
	if burst <= 0 {
		burst = 1
	}
	c := &client{
		conn:         conn,
		sess:         sess,
		srv:          s,
		log:          s.log.With("session", sess.ID()),
		limiter:      rate.NewLimiter(limit, burst),
		control:      make(chan outbound, controlQueue),
		tick:         cfg.Stream.TickInterval,
		writeTimeout: orDefault(cfg.Stream.WriteTimeout, 10*time.Second),
		pingInterval: orDefault(cfg.Stream.PingInterval, 30*time.Second),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	s.metrics.ActiveSessions.Inc()

	c.start()
	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// RemoveClient unregisters the client's session. Safe to call more than
// once.
func (s *Server) RemoveClient(c *client) {
	s.registry.Unregister(c.sess.ID())

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	s.log.Infow("ws client disconnected", "session", c.sess.ID(), "remote", c.sess.Remote())
	s.metrics.ActiveSessions.Dec()
	delete(s.clients, c)
}

func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// CloseAll ends every session with reason. Each client's writer sends a
// final frame describing the reason before closing its connection.
func (s *Server) CloseAll(reason error) int {
	return s.registry.CloseAll(reason)
}

// Wait blocks until every client has disconnected or the timeout elapses.
func (s *Server) Wait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for s.ClientCount() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

type Status struct {
	Upstream       *ingest.HealthSnapshot `json:"upstream,omitempty"`
	Sessions       int                    `json:"sessions"`
	MaxConnections int                    `json:"maxConnections"`
	Totals         dispatch.Totals        `json:"totals"`
	UptimeSeconds  float64                `json:"uptimeSeconds"`
	Process        *procstats.Stats       `json:"process,omitempty"`
}

func (s *Server) Status() Status {
	st := Status{
		Sessions:       s.registry.Len(),
		MaxConnections: s.registry.Limit(),
		Totals:         s.dispatcher.Totals(),
		UptimeSeconds:  time.Since(s.started).Seconds(),
	}
	if s.health != nil {
		snap := s.health.Snapshot()
		st.Upstream = &snap
	}
	if s.procStats != nil {
		ps := s.procStats.Sample()
		st.Process = &ps
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Status())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	snap := s.registry.Snapshot()
	infos := make([]session.Info, 0, len(snap))
	for _, sess := range snap {
		infos = append(infos, sess.Info())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil && s.health.Failed() {
		http.Error(w, "upstream failed", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "ok")
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Pulse-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
