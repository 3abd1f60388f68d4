package appserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"openui/cli/internal/apperr"
	"openui/cli/internal/logging"
	"openui/cli/internal/plugins"
	"openui/cli/internal/skills"
)

const (
	Prefix     = "/openui-toolbar-app"
	BridgePath = Prefix + "/karton"
)

type SkillSource interface {
	Get(ctx context.Context) ([]skills.Skill, error)
	Invalidate()
}

type Deps struct {
	AppPort int
	// ToolbarDir holds the overlay bundle, including .vite/manifest.json.
	ToolbarDir  string
	Development bool
	EddyMode    string
	Plugins     []plugins.Plugin
	Bridge      http.Handler
	Skills      SkillSource
	Logger      *slog.Logger
}

// Server fronts the developer's app. Requests under Prefix belong to the
// overlay; everything else goes to the app, except top-level document
// navigations which receive the overlay shell.
type Server struct {
	deps     Deps
	manifest plugins.Manifest
	overlay  http.Handler
	proxy    http.Handler
	logger   *slog.Logger
}

func NewServer(deps Deps) (*Server, error) {
	if deps.AppPort <= 0 || deps.AppPort > 65535 {
		return nil, apperr.New(apperr.CodeConfigValidateInvalidValue, "app port out of range",
			apperr.Field("app_port", deps.AppPort))
	}
	s := &Server{
		deps:     deps,
		manifest: plugins.BuildManifest(deps.Plugins, Prefix),
		logger:   logging.OrDiscard(deps.Logger).With("module", "appserver"),
	}
	s.proxy = newAppProxy(deps.AppPort, s.logger)
	s.overlay = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) Manifest() plugins.Manifest {
	return s.manifest
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	reserved := strings.HasPrefix(p, Prefix)
	if isUpgrade(r) {
		s.serveUpgrade(w, r, reserved)
		return
	}
	switch {
	case reserved:
		s.overlay.ServeHTTP(w, r)
	case isDocumentNavigation(r):
		s.serveShell(w, r)
	default:
		s.proxy.ServeHTTP(w, r)
	}
}

// serveUpgrade classifies a WebSocket upgrade once, before any byte is
// forwarded.
func (s *Server) serveUpgrade(w http.ResponseWriter, r *http.Request, reserved bool) {
	switch {
	case !reserved:
		s.logger.Debug("proxying websocket upgrade", "path", r.URL.Path, "app_port", s.deps.AppPort)
		s.proxy.ServeHTTP(w, r)
	case r.URL.Path == BridgePath && s.deps.Bridge != nil:
		s.deps.Bridge.ServeHTTP(w, r)
	default:
		s.logger.Debug("unknown websocket path", "path", r.URL.Path)
		dropConnection(w)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route(Prefix, func(r chi.Router) {
		r.Route("/api", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))
			r.Get("/skills", s.handleSkills)
			r.Get("/health", s.handleHealth)
		})
		r.Get("/config.js", s.serveConfig)
		for _, p := range s.deps.Plugins {
			if !p.Available || !p.Local() {
				continue
			}
			if p.SingleFile {
				file := filepath.Join(p.Path, filepath.FromSlash(p.Entry))
				r.Get("/plugins/"+p.Slug()+"/"+p.Entry, func(w http.ResponseWriter, r *http.Request) {
					http.ServeFile(w, r, file)
				})
				s.logger.Debug("serving local plugin file", "plugin", p.Name, "path", file)
				continue
			}
			mount := Prefix + "/plugins/" + p.Slug()
			r.Handle("/plugins/"+p.Slug()+"/*", http.StripPrefix(mount, http.FileServer(http.Dir(p.Path))))
			s.logger.Debug("serving local plugin", "plugin", p.Name, "path", p.Path)
		}
		if s.deps.ToolbarDir != "" {
			r.Handle("/*", http.StripPrefix(Prefix, http.FileServer(http.Dir(s.deps.ToolbarDir))))
		}
	})
	return r
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	list := []skills.Skill{}
	if s.deps.Skills != nil {
		if r.URL.Query().Get("refresh") == "1" {
			s.deps.Skills.Invalidate()
		}
		found, err := s.deps.Skills.Get(r.Context())
		if err != nil {
			s.logger.Debug("skill discovery failed", "err", err)
		} else if found != nil {
			list = found
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": list})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"appPort": s.deps.AppPort,
		"plugins": len(s.manifest.Available()),
	})
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func isDocumentNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return r.Header.Get("Sec-Fetch-Dest") == "document"
}

// dropConnection closes the client socket without writing a response.
func dropConnection(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
			return
		}
	}
	panic(http.ErrAbortHandler)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError answers with a short plain-text body and the status derived
// from the error code.
func writeError(w http.ResponseWriter, err error, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(apperr.HTTPStatus(err))
	_, _ = w.Write([]byte(body))
}
