package studio

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	glimpse "github.com/thinkscotty/glimpse"
	"github.com/thinkscotty/glimpse/internal/config"
	"github.com/thinkscotty/glimpse/internal/library"
	"github.com/thinkscotty/glimpse/internal/metrics"
)

type Server struct {
	cfg     config.ServerConfig
	shell   *Shell
	catalog *library.Catalog
	version string
	pages   map[string]*template.Template

	mu      sync.Mutex
	httpSrv *http.Server
	closed  bool
}

func New(cfg config.ServerConfig, shell *Shell, catalog *library.Catalog, version string) *Server {
	return &Server{
		cfg:     cfg,
		shell:   shell,
		catalog: catalog,
		version: version,
	}
}

// Handler loads templates and returns the full middleware-wrapped router.
func (s *Server) Handler() (http.Handler, error) {
	if err := s.loadTemplates(); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	mux := http.NewServeMux()
	s.routes(mux)
	return recoveryMiddleware(loggingMiddleware(mux)), nil
}

// Start builds the handler and serves until Shutdown.
func (s *Server) Start() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpSrv = httpSrv
	s.mu.Unlock()

	slog.Info("Starting studio", "addr", addr, "files", len(s.catalog.Names()))
	return httpSrv.ListenAndServe()
}

// Shutdown stops the server. A Start that has not begun listening yet
// returns http.ErrServerClosed instead.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	httpSrv := s.httpSrv
	s.mu.Unlock()

	if httpSrv == nil {
		return nil
	}
	return httpSrv.Shutdown(ctx)
}

func (s *Server) routes(mux *http.ServeMux) {
	staticFS, _ := fs.Sub(glimpse.StaticFS, "web/static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFS)))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /preview.png", s.handlePreview)
	mux.HandleFunc("GET /images/{name}", s.handleImage)
	mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) loadTemplates() error {
	funcMap := template.FuncMap{
		"percent": func(f float64) int {
			return int(f*100 + 0.5)
		},
	}

	s.pages = make(map[string]*template.Template)
	for _, page := range []string{"studio"} {
		t, err := template.New("base.html").Funcs(funcMap).ParseFS(glimpse.TemplateFS,
			"web/templates/layouts/base.html",
			"web/templates/pages/"+page+".html",
		)
		if err != nil {
			return fmt.Errorf("parse template %s: %w", page, err)
		}
		s.pages[page] = t
	}
	return nil
}

func (s *Server) render(w http.ResponseWriter, page string, data map[string]any) {
	tmpl, ok := s.pages[page]
	if !ok {
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}
	data["Version"] = s.version

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		slog.Error("Template execution error", "page", page, "error", err)
	}
}
