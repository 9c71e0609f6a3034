package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/nirel-io/roomcast/internal/monitoring"
	"github.com/nirel-io/roomcast/internal/ratelimit"
	"github.com/nirel-io/roomcast/internal/room"
	"github.com/nirel-io/roomcast/internal/session"
)

// Server owns the HTTP listener, the room registry, and the background
// monitors. One Server is created per process.
type Server struct {
	config Config
	logger zerolog.Logger

	registry       *room.Registry
	connectLimiter *ratelimit.ConnectLimiter
	sysMonitor     *monitoring.SystemMonitor

	listener      net.Listener
	httpServer    *http.Server
	metricsServer *http.Server

	sessions sync.Map // map[*session.Session]struct{}

	activeConnections atomic.Int64
	sessionIDGen      atomic.Uint64
	shuttingDown      atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer wires the registry, limiters, and monitors together and builds
// the HTTP router. It does not start listening; call Start for that.
func NewServer(config Config, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:         config,
		logger:         logger,
		registry:       room.NewRegistry(config.MaxHistorySize, config.RemoveAfter, logger),
		connectLimiter: ratelimit.NewConnectLimiter(config.ConnectRatePerSec, config.ConnectRateBurst, 10*time.Minute, logger),
		sysMonitor:     monitoring.NewSystemMonitor(logger),
		ctx:            ctx,
		cancel:         cancel,
	}

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      0, // a live WebSocket connection is long-lived; timeouts are enforced per-write in session
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/metrics", handleMetrics)
	s.metricsServer = &http.Server{
		Addr:              config.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/rooms", s.handleListRooms)
		r.Route("/room/{room}", func(r chi.Router) {
			r.Get("/ws", s.handleWebSocket)
			r.Get("/history", s.handleHistory)
		})
	})

	if s.config.StaticDir != "" {
		s.mountStatic(r)
	}

	return r
}

// mountStatic serves a single-page-app bundle, falling back to index.html
// for any path that doesn't match a file on disk. Kept best-effort: a
// missing static dir is not a startup error since the WebSocket API works
// without it.
func (s *Server) mountStatic(r chi.Router) {
	root := s.config.StaticDir
	if _, err := os.Stat(root); err != nil {
		s.logger.Debug().Str("dir", root).Msg("static directory not present, skipping static file serving")
		return
	}
	fileServer := http.FileServer(http.Dir(root))
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		path := filepath.Join(root, filepath.Clean(req.URL.Path))
		if _, err := os.Stat(path); err == nil {
			fileServer.ServeHTTP(w, req)
			return
		}
		http.ServeFile(w, req, filepath.Join(root, "index.html"))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.registry.List()
	type roomJSON struct {
		Name        string `json:"name"`
		Connections uint64 `json:"connections"`
	}
	out := make([]roomJSON, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, roomJSON{Name: rm.Name, Connections: rm.Connections})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	monitoring.HistoryRequestsTotal.Inc()
	name := chi.URLParam(r, "room")

	w.Header().Set("Content-Type", "application/json")
	rm, ok := s.registry.Get(name)
	if !ok {
		// Querying history never creates a room; an unknown room simply
		// has no history yet.
		json.NewEncoder(w).Encode([]string{})
		return
	}
	json.NewEncoder(w).Encode(rm.History.Snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if !s.connectLimiter.Allow(ip) {
		monitoring.ConnectionsFailed.WithLabelValues("rate_limited").Inc()
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if s.activeConnections.Load() >= int64(s.config.MaxConnections) {
		monitoring.ConnectionsFailed.WithLabelValues("at_capacity").Inc()
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	snap := s.sysMonitor.Snapshot()
	if snap.CPUPercent > s.config.CPURejectThreshold {
		monitoring.ConnectionsFailed.WithLabelValues("cpu_overload").Inc()
		s.logger.Warn().Float64("cpu_percent", snap.CPUPercent).Msg("rejecting connection, CPU above reject threshold")
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return
	}

	name := chi.URLParam(r, "room")

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		monitoring.ConnectionsFailed.WithLabelValues("upgrade_failed").Inc()
		s.logger.Error().Err(err).Str("room", name).Msg("websocket upgrade failed")
		return
	}

	rm := s.registry.GetOrCreate(name)
	monitoring.RoomsActive.Set(float64(s.registry.Count()))

	id := s.sessionIDGen.Add(1)
	msgLimiter := ratelimit.NewMessageLimiter(s.config.MessageRatePerSec, s.config.MessageRateBurst)
	sess := session.New(id, conn, rm, s.config.WebsocketTimeout, msgLimiter, s.logger)

	monitoring.ConnectionsTotal.Inc()
	s.activeConnections.Add(1)
	monitoring.ConnectionsActive.Set(float64(s.activeConnections.Load()))

	s.sessions.Store(sess, struct{}{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run()
		s.sessions.Delete(sess)
		s.activeConnections.Add(-1)
		monitoring.ConnectionsActive.Set(float64(s.activeConnections.Load()))
		monitoring.DisconnectsTotal.WithLabelValues("client").Inc()
		monitoring.RoomsActive.Set(float64(s.registry.Count()))
	}()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Start begins listening and launches the background monitors. It returns
// once the listener is bound; serving happens in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info().Str("addr", s.config.Addr).Msg("server listening")

	s.sysMonitor.Start(s.ctx, s.config.MetricsInterval)
	s.wg.Add(1)
	go s.sampleMetrics()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("server accept loop error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str("addr", s.config.MetricsAddr).Msg("metrics server listening")
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	return nil
}

// sampleMetrics periodically copies system monitor snapshots into the
// Prometheus gauges; the monitor itself only samples, it never pushes.
func (s *Server) sampleMetrics() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := s.sysMonitor.Snapshot()
			monitoring.MemoryUsageMB.Set(snap.MemoryMB)
			monitoring.CPUUsagePercent.Set(snap.CPUPercent)
			monitoring.GoroutinesActive.Set(float64(snap.Goroutines))
			monitoring.RoomsActive.Set(float64(s.registry.Count()))
		case <-s.ctx.Done():
			return
		}
	}
}

// Shutdown stops accepting new connections, waits for in-flight sessions to
// drain (up to gracePeriod), then force-cancels anything left.
func (s *Server) Shutdown(gracePeriod time.Duration) error {
	s.logger.Info().Msg("initiating graceful shutdown")
	s.shuttingDown.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("error shutting down http server")
	}
	if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("error shutting down metrics server")
	}

	// Stop the background samplers first: sampleMetrics is tracked by s.wg
	// and only exits once s.ctx is cancelled. Sessions use their own
	// contexts and are unaffected.
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("all sessions drained")
	case <-shutdownCtx.Done():
		s.logger.Warn().Int64("remaining", s.activeConnections.Load()).Msg("grace period expired, force closing remaining sessions")
		s.sessions.Range(func(key, _ any) bool {
			key.(*session.Session).Close()
			return true
		})
		<-done
	}

	s.sysMonitor.Stop()
	s.connectLimiter.Stop()

	s.logger.Info().Msg("shutdown complete")
	return nil
}
