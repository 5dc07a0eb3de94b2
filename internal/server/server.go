// Package server exposes digests and chat over HTTP.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/curator/internal/chat"
	"github.com/TobiSchelling/curator/internal/config"
	"github.com/TobiSchelling/curator/internal/database"
	"github.com/TobiSchelling/curator/internal/digest"
	"github.com/TobiSchelling/curator/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New()

// Server is the curator HTTP server.
type Server struct {
	db        *database.DB
	assembler *digest.Assembler
	backends  *chat.Backends
	digestCfg config.Digest
	version   string
	started   time.Time
	page      *template.Template
	router    chi.Router
	logger    *slog.Logger

	mu          sync.Mutex
	sessions    map[string]*session
	sessionIdle time.Duration
	maxSessions int
	now         func() time.Time
}

// session pairs an orchestrator with the user it was opened for.
type session struct {
	userID   string
	orch     *chat.Orchestrator
	lastUsed time.Time
}

// New creates a server. Zero session limits in serverCfg fall back to the
// defaults.
func New(db *database.DB, backends *chat.Backends, digestCfg config.Digest, serverCfg config.Server, version string, logger *slog.Logger) (*Server, error) {
	page, err := template.New("digest.html").
		Funcs(template.FuncMap{"markdown": renderMarkdown}).
		ParseFS(templateFS, "templates/digest.html")
	if err != nil {
		return nil, fmt.Errorf("parsing digest template: %w", err)
	}

	logger = logging.OrDefault(logger)
	s := &Server{
		db:        db,
		assembler: digest.NewAssembler(db, logger),
		backends:  backends,
		digestCfg: digestCfg,
		version:   version,
		started:   time.Now(),
		page:      page,
		logger:    logger,
		sessions:  make(map[string]*session),
		now:       time.Now,
	}
	defaults := config.Default().Server
	s.sessionIdle = serverCfg.SessionIdle
	if s.sessionIdle <= 0 {
		s.sessionIdle = defaults.SessionIdle
	}
	s.maxSessions = serverCfg.MaxSessions
	if s.maxSessions <= 0 {
		s.maxSessions = defaults.MaxSessions
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/digest/{userID}", s.handleDigestPage)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/users/{userID}/digest", s.handleBuildDigest)
		r.Post("/users/{userID}/feedback", s.handleFeedback)

		r.Post("/chat", s.handleChat)
		r.Get("/sessions/{sessionID}/turns", s.handleTurns)
		r.Post("/sessions/{sessionID}/reset", s.handleReset)
		r.Delete("/sessions/{sessionID}", s.handleCloseSession)

		r.Get("/items/{itemID}/similar", s.handleSimilar)
	})

	s.router = r
}

func (s *Server) render(w http.ResponseWriter, d *digest.Digest) {
	var buf bytes.Buffer
	err := s.page.Execute(&buf, map[string]any{
		"Title":       "Digest " + d.Date,
		"Markdown":    digest.RenderMarkdown(d),
		"GeneratedAt": d.GeneratedAt,
	})
	if err != nil {
		s.logger.Error("rendering digest page", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve starts the HTTP server on the given port.
func Serve(srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv.logger.Info("server listening", "url", "http://"+addr)
	return http.ListenAndServe(addr, srv)
}
