package plugins

import (
	"encoding/json"
	"errors"
	"path"
	"strings"
)

// Spec is one entry of the "plugins" array in openui.config.json. It accepts
// either a bare string or an object with name, path and url.
type Spec struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

func (s *Spec) UnmarshalJSON(raw []byte) error {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		*s = SpecFromString(text)
		return nil
	}
	type plain Spec
	var obj plain
	if err := json.Unmarshal(raw, &obj); err != nil {
		return errors.New("plugin entry must be a string or an object with name, path or url")
	}
	*s = Spec(obj)
	return nil
}

// SpecFromString classifies a bare entry as a remote URL, a local path or a
// package name.
func SpecFromString(text string) Spec {
	text = strings.TrimSpace(text)
	switch {
	case isRemote(text):
		return Spec{URL: text}
	case isLocalPath(text):
		return Spec{Path: text}
	default:
		return Spec{Name: text}
	}
}

func isRemote(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func isLocalPath(s string) bool {
	return strings.HasPrefix(s, ".") || strings.HasPrefix(s, "/") || strings.HasPrefix(s, "~")
}

// Plugin is a resolved plugin. Exactly one of Path or URL is set when the
// plugin is available.
type Plugin struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Path        string `json:"path,omitempty"`
	Entry       string `json:"entry,omitempty"`
	URL         string `json:"url,omitempty"`
	Available   bool   `json:"available"`
	Error       string `json:"error,omitempty"`
	// SingleFile plugins were declared as a file; only Entry inside Path is
	// served.
	SingleFile bool `json:"singleFile,omitempty"`
}

// Slug is the mount segment for a local plugin: every '@' and '/' in the name
// becomes '-'.
func Slug(name string) string {
	return strings.NewReplacer("@", "-", "/", "-").Replace(name)
}

func (p Plugin) Slug() string {
	return Slug(p.Name)
}

// Local reports whether the plugin is served from disk.
func (p Plugin) Local() bool {
	return p.Path != ""
}

// ModuleURL is what the browser imports for this plugin. Local plugins are
// mounted under base.
func (p Plugin) ModuleURL(base string) string {
	if p.URL != "" {
		return p.URL
	}
	if p.Path == "" {
		return ""
	}
	entry := p.Entry
	if entry == "" {
		entry = "index.js"
	}
	return path.Join(strings.TrimRight(base, "/"), "plugins", p.Slug(), entry)
}

// Source is the declared origin used in warnings.
func (p Plugin) Source() string {
	if p.URL != "" {
		return p.URL
	}
	return p.Path
}
