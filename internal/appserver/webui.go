package appserver

import (
	"bytes"
	"embed"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"openui/cli/internal/apperr"
	"openui/cli/internal/plugins"
)

const reactVersion = "19.1.0"

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("appserver").Funcs(template.FuncMap{
	"jsString": jsString,
}).ParseFS(templateFS, "templates/*.tmpl"))

func jsString(s string) (string, error) {
	raw, err := json.Marshal(s)
	return string(raw), err
}

type viteEntry struct {
	File string `json:"file"`
}

// importMap resolves the bare specifiers the overlay bundle imports.
func (s *Server) importMap() (map[string]map[string]string, error) {
	raw, err := os.ReadFile(filepath.Join(s.deps.ToolbarDir, ".vite", "manifest.json"))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeServerRenderFailure, "read toolbar manifest")
	}
	var vite map[string]viteEntry
	if err := json.Unmarshal(raw, &vite); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeServerRenderFailure, "parse toolbar manifest")
	}

	suffix := ""
	if s.deps.Development {
		suffix = "?dev"
	}
	imports := map[string]string{
		"react":             "https://esm.sh/react@" + reactVersion + suffix,
		"react-dom":         "https://esm.sh/react-dom@" + reactVersion + suffix,
		"react-dom/client":  "https://esm.sh/react-dom@" + reactVersion + "/client" + suffix,
		"react/jsx-runtime": "https://esm.sh/react@" + reactVersion + "/jsx-runtime" + suffix,
	}
	for _, e := range vite {
		if strings.HasSuffix(e.File, ".js") {
			imports[e.File] = Prefix + "/" + e.File
		}
	}
	imports["@openui-xio/toolbar/config"] = Prefix + "/config.js"
	imports["@openui-xio/plugin-sdk"] = Prefix + "/plugin-sdk.js"
	for specifier, url := range s.manifest.ImportMap() {
		imports[specifier] = url
	}
	return map[string]map[string]string{"imports": imports}, nil
}

func (s *Server) renderShell() ([]byte, error) {
	im, err := s.importMap()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(im)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeServerRenderFailure, "encode import map")
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "shell.html.tmpl", map[string]any{"ImportMap": string(raw)}); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeServerRenderFailure, "render shell")
	}
	return buf.Bytes(), nil
}

func (s *Server) serveShell(w http.ResponseWriter, r *http.Request) {
	body, err := s.renderShell()
	if err != nil {
		s.logger.Error("html shell", "err", err)
		writeError(w, err, "Error generating HTML")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

type configData struct {
	Available   []plugins.Entry
	Unavailable []plugins.Entry
	AppPort     int
	EddyMode    string
}

// RenderConfig renders the overlay's config module. Each available plugin
// is imported on its own so one broken plugin cannot break the rest.
func (s *Server) RenderConfig() ([]byte, error) {
	data := configData{
		Available:   s.manifest.Available(),
		Unavailable: s.manifest.Unavailable(),
		AppPort:     s.deps.AppPort,
		EddyMode:    s.deps.EddyMode,
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "config.js.tmpl", data); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeServerRenderFailure, "render config")
	}
	return buf.Bytes(), nil
}

func (s *Server) serveConfig(w http.ResponseWriter, _ *http.Request) {
	body, err := s.RenderConfig()
	if err != nil {
		s.logger.Error("config script", "err", err)
		writeError(w, err, "Error generating config")
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
