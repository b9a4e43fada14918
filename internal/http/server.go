// Package http provides the local preview server: an example host page and
// one websocket connection per widget instance.
package http

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/readmore/internal/config"
	"github.com/roelfdiedericks/readmore/internal/llm"
	. "github.com/roelfdiedericks/readmore/internal/logging"
	. "github.com/roelfdiedericks/readmore/internal/metrics"
)

//go:embed html/*.html
var htmlFS embed.FS

// Server represents the HTTP server
type Server struct {
	server       *http.Server
	templates    *template.Template
	rateLimiter  *RateLimiter
	upgrader     websocket.Upgrader
	shutdownChan chan struct{}
	wg           sync.WaitGroup

	// config returns the settings for new widget instances
	config  func() *config.Config
	backend llm.Backend

	connsMu sync.Mutex
	conns   map[string]*wsConn

	// Dev mode: reload templates from disk on each request
	devMode      bool
	templatesDir string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen  string // Address to listen on (e.g., "127.0.0.1:1337")
	DevMode bool   // Reload templates from disk on each request

	// Config returns the current configuration. It is called once per new
	// widget instance so reloaded settings apply to new connections.
	Config func() *config.Config

	// Backend overrides the configured backend for every instance.
	Backend llm.Backend

	// RateLimit is the number of requests allowed per IP per RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	L_debug("http: NewServer starting", "listen", cfg.Listen, "devMode", cfg.DevMode)

	if cfg.Config == nil {
		return nil, fmt.Errorf("http: server requires a config source")
	}

	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:1337"
	}

	s := &Server{
		rateLimiter:  NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		shutdownChan: make(chan struct{}),
		config:       cfg.Config,
		backend:      cfg.Backend,
		conns:        make(map[string]*wsConn),
		devMode:      cfg.DevMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	// In dev mode, find the templates directory from source location
	if s.devMode {
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			return nil, fmt.Errorf("dev mode: failed to determine source directory")
		}
		s.templatesDir = filepath.Join(filepath.Dir(file), "html")
		if _, err := os.Stat(s.templatesDir); err != nil {
			return nil, fmt.Errorf("dev mode: templates directory not found: %s", s.templatesDir)
		}
		L_info("http: dev mode enabled, loading templates from disk", "dir", s.templatesDir)
	}

	if err := s.loadTemplates(); err != nil {
		L_error("http: template loading failed", "error", err, "devMode", s.devMode, "templatesDir", s.templatesDir)
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	s.server = &http.Server{
		Addr:        listen,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Apply middleware chain: logging -> strip headers -> rate limit
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(s.rateLimit(h)))
	}

	mux.HandleFunc("/ws", wrap(s.handleWS))
	mux.HandleFunc("/api/health", wrap(s.handleHealth))
	mux.HandleFunc("/api/metrics", wrap(s.handleMetricsAPI))
	mux.HandleFunc("/", s.logRequest(s.stripHeaders(s.handleIndex)))

	return mux
}

// loadTemplates loads HTML templates (from disk in dev mode, embedded otherwise)
func (s *Server) loadTemplates() error {
	if s.devMode && s.templatesDir != "" {
		pattern := filepath.Join(s.templatesDir, "*.html")
		tmpl, err := template.ParseGlob(pattern)
		if err != nil {
			return fmt.Errorf("failed to parse templates from disk: %w", err)
		}
		s.templates = tmpl
		L_trace("http: loaded templates from disk", "dir", s.templatesDir)
		return nil
	}

	htmlDir, err := fs.Sub(htmlFS, "html")
	if err != nil {
		return fmt.Errorf("failed to get html subdirectory: %w", err)
	}

	tmpl, err := template.ParseFS(htmlDir, "*.html")
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}

	s.templates = tmpl
	L_debug("http: loaded embedded templates")
	return nil
}

// reloadTemplatesIfDev reloads templates from disk if in dev mode
func (s *Server) reloadTemplatesIfDev() error {
	if !s.devMode {
		return nil
	}
	return s.loadTemplates()
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", s.server.Addr)

		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes live widget instances.
func (s *Server) Stop() error {
	start := time.Now()
	close(s.shutdownChan)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	if err != nil {
		L_error("http: shutdown error", "error", err)
	}
	s.closeConns()

	s.wg.Wait()
	L_elapsed(start, "http: server stopped")
	return err
}

func (s *Server) addConn(c *wsConn) {
	s.connsMu.Lock()
	s.conns[c.id] = c
	n := len(s.conns)
	s.connsMu.Unlock()
	MetricSet(TopicHTTP, "ws_connections", int64(n))
}

func (s *Server) removeConn(c *wsConn) {
	s.connsMu.Lock()
	delete(s.conns, c.id)
	n := len(s.conns)
	s.connsMu.Unlock()
	MetricSet(TopicHTTP, "ws_connections", int64(n))
}

// closeConns closes every websocket; their handlers then close the instances.
func (s *Server) closeConns() {
	s.connsMu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
	if len(conns) > 0 {
		L_info("http: closed widget connections", "count", len(conns))
	}
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("http: response writer cannot be hijacked")
	}
	lw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}
