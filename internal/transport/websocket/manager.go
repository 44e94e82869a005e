// Package websocket implements the upgrade path of spec §6.1: accept a
// connection at /ws/{charge-point-id}, negotiate the ocpp1.6
// subprotocol, and hand the upgraded socket to a new session.Session
// bound into the Connection Registry. Grounded on the teacher's
// Manager/ConnectionWrapper split, simplified now that Session itself
// owns the single-writer send path and the receive loop: this package's
// job shrinks to HTTP plumbing (upgrade, health check, connection
// listing) plus the idle-connection sweep.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charging-platform/csms/internal/domain/connection"
	"github.com/charging-platform/csms/internal/domain/protocol"
	"github.com/charging-platform/csms/internal/domain/registry"
	"github.com/charging-platform/csms/internal/domain/session"
	"github.com/charging-platform/csms/internal/logger"
	"github.com/charging-platform/csms/internal/metrics"
)

// subprotocol is the only OCPP-J subprotocol this gateway negotiates;
// OCPP 2.0/2.0.1 are an explicit non-goal (spec.md Non-goals).
const subprotocol = "ocpp1.6"

// Config carries the WebSocket-layer knobs, trimmed from the teacher's
// Config to what a single-subprotocol OCPP-J gateway needs.
type Config struct {
	Host string
	Port int
	Path string

	ReadBufferSize    int
	WriteBufferSize   int
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	EnableCompression bool

	MaxConnections  int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration

	CheckOrigin    bool
	AllowedOrigins []string
}

func DefaultConfig() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: 8080,
		Path: "/ws",

		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    1024 * 1024,
		EnableCompression: false,

		MaxConnections:  1000,
		IdleTimeout:     5 * time.Minute,
		CleanupInterval: 1 * time.Minute,

		CheckOrigin:    false,
		AllowedOrigins: []string{},
	}
}

// Manager owns the HTTP/WebSocket upgrade path and the idle-connection
// sweep. Per-connection I/O belongs to session.Session; Manager never
// reads or writes a frame itself.
type Manager struct {
	config   *Config
	upgrader *websocket.Upgrader

	registry *registry.Registry
	handler  session.Handler
	sessionMetrics session.Metrics
	sessionCfg     session.Config

	metaMu sync.RWMutex
	meta   map[string]*connection.Connection

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	logger *logger.Logger
}

func NewManager(config *Config, reg *registry.Registry, handler session.Handler, sessionMetrics session.Metrics, log *logger.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log, _ = logger.New(logger.DefaultConfig())
	}

	ctx, cancel := context.WithCancel(context.Background())

	upgrader := &websocket.Upgrader{
		ReadBufferSize:    config.ReadBufferSize,
		WriteBufferSize:   config.WriteBufferSize,
		HandshakeTimeout:  config.HandshakeTimeout,
		EnableCompression: config.EnableCompression,
		Subprotocols:      []string{subprotocol},
		CheckOrigin: func(r *http.Request) bool {
			if !config.CheckOrigin {
				return true
			}
			origin := r.Header.Get("Origin")
			if len(config.AllowedOrigins) == 0 {
				return true
			}
			for _, allowed := range config.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}

	m := &Manager{
		config:         config,
		upgrader:       upgrader,
		registry:       reg,
		handler:        handler,
		sessionMetrics: sessionMetrics,
		sessionCfg:     session.DefaultConfig(),
		meta:           make(map[string]*connection.Connection),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		logger:         log,
	}

	// Registry.Bind owns Session.OnClose (it needs the callback to unbind
	// itself); the manager instead listens on the registry's event feed to
	// keep its own connection metadata and the active-connections gauge in
	// sync, rather than racing Bind for the single OnClose slot.
	reg.Subscribe(func(ev registry.Event) {
		switch ev.Type {
		case registry.EventConnected:
			metrics.ActiveConnections.Inc()
		case registry.EventDisconnected:
			m.metaMu.Lock()
			delete(m.meta, ev.ChargePointID)
			m.metaMu.Unlock()
			metrics.ActiveConnections.Dec()
			m.logger.Infof("session closed for %s: %s", ev.ChargePointID, ev.Reason)
		}
	})

	return m
}

// Start launches the HTTP server and the idle-connection sweep.
func (m *Manager) Start() error {
	m.logger.Infof("Starting WebSocket manager on %s:%d%s", m.config.Host, m.config.Port, m.config.Path)

	m.wg.Add(1)
	go m.cleanupRoutine()

	m.wg.Add(1)
	go m.startHTTPServer()

	return nil
}

func (m *Manager) startHTTPServer() {
	defer m.wg.Done()

	mux := http.NewServeMux()
	mux.HandleFunc(m.config.Path+"/", m.handleWebSocketUpgrade)
	mux.HandleFunc("/health", m.handleHealthCheck)
	mux.HandleFunc("/connections", m.handleConnectionsStatus)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", m.config.Host, m.config.Port),
		Handler: mux,
	}

	go func() {
		<-m.ctx.Done()
		server.Close()
	}()

	m.logger.Infof("HTTP server starting on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		m.logger.Errorf("HTTP server failed: %v", err)
	}
}

// handleWebSocketUpgrade extracts {charge-point-id} from /ws/{id} and
// upgrades the connection.
func (m *Manager) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	chargePointID := m.extractChargePointID(r.URL.Path)
	if chargePointID == "" {
		http.Error(w, "invalid charge point ID", http.StatusBadRequest)
		return
	}

	if m.registry.Count() >= m.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	if err := m.HandleConnection(w, r, chargePointID); err != nil {
		m.logger.Errorf("failed to handle connection for %s: %v", chargePointID, err)
	}
}

func (m *Manager) extractChargePointID(path string) string {
	prefix := m.config.Path + "/"
	if len(path) <= len(prefix) {
		return ""
	}
	id := strings.TrimPrefix(path[len(prefix):], "")
	return id
}

func (m *Manager) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Format(time.RFC3339),
		"connections": m.registry.Count(),
		"uptime":      time.Since(m.startTime).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (m *Manager) handleConnectionsStatus(w http.ResponseWriter, r *http.Request) {
	m.metaMu.RLock()
	out := make(map[string]interface{}, len(m.meta))
	for id, c := range m.meta {
		out[id] = map[string]interface{}{
			"connected_at": c.NetworkInfo.ConnectedAt.Format(time.RFC3339),
			"remote_addr":  c.NetworkInfo.RemoteAddr,
			"subprotocol":  subprotocol,
		}
	}
	m.metaMu.RUnlock()

	status := map[string]interface{}{
		"total_connections": len(out),
		"connections":       out,
		"timestamp":         time.Now().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// HandleConnection upgrades the HTTP request, binds a new Session into
// the registry (evicting any previous connection for this charge point,
// per spec §4.D), and runs the session's receive loop on a fresh
// goroutine.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, chargePointID string) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn.SetReadLimit(m.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		return nil
	})

	negotiated := conn.Subprotocol()
	if negotiated == "" {
		m.logger.Warnf("no subprotocol negotiated for %s, continuing as ocpp1.6 anyway", chargePointID)
		negotiated = subprotocol
	} else if !protocol.IsVersionSupported(negotiated) {
		m.logger.Warnf("unsupported subprotocol %q negotiated for %s, closing", negotiated, chargePointID)
		conn.Close()
		return fmt.Errorf("unsupported subprotocol: %s", negotiated)
	}

	meta := connection.NewConnection(
		fmt.Sprintf("ws-%s-%d", chargePointID, time.Now().Unix()),
		chargePointID,
		connection.ConnectionTypeWebSocket,
		protocol.ToConnectionProtocolVersion(negotiated),
	)
	meta.UpdateNetworkInfo(r.RemoteAddr, r.Host)
	meta.SetState(connection.ConnectionStateConnected)

	sess := session.New(chargePointID, negotiated, conn, m.handler, m, m.sessionMetrics, m.logger, m.sessionCfg)

	m.metaMu.Lock()
	m.meta[chargePointID] = meta
	m.metaMu.Unlock()

	m.registry.Bind(chargePointID, sess)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sess.Run()
	}()

	m.logger.Infof("WebSocket connection established for %s from %s", chargePointID, r.RemoteAddr)
	return nil
}

// SetSessionConfig overrides the Config every subsequently-upgraded
// Session is built with (default call timeout, write timeout), letting
// engine.New thread OCPPConfig.MessageTimeout through without widening
// NewManager's signature.
func (m *Manager) SetSessionConfig(cfg session.Config) {
	m.sessionCfg = cfg
}

// RecordActivity satisfies session.ActivityObserver, refreshing the
// connection metadata's last-activity watermark on every inbound frame.
func (m *Manager) RecordActivity(chargePointID string) {
	m.metaMu.RLock()
	c, ok := m.meta[chargePointID]
	m.metaMu.RUnlock()
	if ok {
		c.UpdateLastActivity()
	}
}

// Shutdown stops accepting new work and closes every live session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down WebSocket manager")
	m.cancel()
	m.registry.Shutdown()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("WebSocket manager shutdown complete")
		return nil
	case <-ctx.Done():
		m.logger.Warn("WebSocket manager shutdown timed out")
		return ctx.Err()
	}
}

func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.registry.Sweep()
			m.cleanupIdleConnections()
		}
	}
}

func (m *Manager) cleanupIdleConnections() {
	now := time.Now()
	var stale []string

	m.metaMu.RLock()
	for id, c := range m.meta {
		if now.Sub(c.NetworkInfo.LastActivity) > m.config.IdleTimeout {
			stale = append(stale, id)
		}
	}
	m.metaMu.RUnlock()

	for _, id := range stale {
		if s := m.registry.Get(id); s != nil {
			m.logger.Infof("closing idle connection for charge point: %s", id)
			s.Close(session.CloseReasonOperator)
		}
	}
}
