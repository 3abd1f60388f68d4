package plugins

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"openui/cli/internal/apperr"
	"openui/cli/internal/logging"
)

var autoPluginName = regexp.MustCompile(`^(@openui-xio/[a-z0-9._-]+-plugin|openui-plugin-[a-z0-9._-]+)$`)

type Loader struct {
	workspace string
	home      string
	logger    *slog.Logger
}

func NewLoader(workspace string, logger *slog.Logger) *Loader {
	home, _ := os.UserHomeDir()
	return &Loader{
		workspace: workspace,
		home:      home,
		logger:    logging.OrDiscard(logger).With("module", "plugins"),
	}
}

// Load resolves every spec, then appends auto-detected packages when auto is
// set. It never fails: a plugin that cannot be resolved is returned with
// Available=false and the captured error. Names are unique, first wins.
func (l *Loader) Load(ctx context.Context, specs []Spec, auto bool) []Plugin {
	all := make([]Spec, 0, len(specs))
	all = append(all, specs...)
	if auto {
		all = append(all, l.autoSpecs()...)
	}

	seen := make(map[string]struct{}, len(all))
	out := make([]Plugin, 0, len(all))
	for _, spec := range all {
		if ctx.Err() != nil {
			break
		}
		p := l.resolve(spec)
		if _, dup := seen[p.Name]; dup {
			l.logger.Debug("duplicate plugin ignored", "plugin", p.Name)
			continue
		}
		seen[p.Name] = struct{}{}
		if !p.Available {
			l.logger.Debug("plugin unavailable", "plugin", p.Name, "err", p.Error)
		}
		out = append(out, p)
	}
	return out
}

func (l *Loader) resolve(spec Spec) Plugin {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Path = strings.TrimSpace(spec.Path)
	spec.URL = strings.TrimSpace(spec.URL)

	switch {
	case spec.URL != "":
		return l.resolveURL(spec)
	case spec.Path != "":
		return l.resolvePath(spec)
	case spec.Name != "":
		return l.resolvePackage(spec)
	default:
		err := apperr.New(apperr.CodePluginSpecInvalid, "plugin entry has no name, path or url")
		return Plugin{Name: "(unnamed)", DisplayName: "(unnamed)", Error: err.Error()}
	}
}

func (l *Loader) resolveURL(spec Spec) Plugin {
	name := spec.Name
	u, err := url.Parse(spec.URL)
	if name == "" && err == nil {
		name = strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	}
	if name == "" || name == "." || name == "/" {
		name = spec.URL
	}
	p := Plugin{Name: name, DisplayName: name, URL: spec.URL}
	switch {
	case err != nil:
		p.Error = apperr.Wrap(err, apperr.CodePluginSpecInvalid, "invalid plugin url").Error()
	case u.Scheme != "http" && u.Scheme != "https" || u.Host == "":
		p.Error = apperr.New(apperr.CodePluginSpecInvalid, "plugin url must be absolute http(s)").Error()
	default:
		p.Available = true
	}
	return p
}

func (l *Loader) resolvePath(spec Spec) Plugin {
	dir := l.absPath(spec.Path)
	name := spec.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	p := Plugin{Name: name, DisplayName: name, Path: dir}
	return l.finishLocal(p)
}

func (l *Loader) resolvePackage(spec Spec) Plugin {
	dir := filepath.Join(l.workspace, "node_modules", filepath.FromSlash(spec.Name))
	p := Plugin{Name: spec.Name, DisplayName: spec.Name, Path: dir}
	if _, err := os.Stat(dir); err != nil {
		p.Path = ""
		p.Error = apperr.Wrap(err, apperr.CodePluginDiscoveryFailure,
			"package not installed in node_modules", apperr.Field("plugin", spec.Name)).Error()
		return p
	}
	return l.finishLocal(p)
}

// finishLocal checks the directory and picks the module entry from its
// package.json, defaulting to index.js. A path naming a file is its own entry.
func (l *Loader) finishLocal(p Plugin) Plugin {
	info, err := os.Stat(p.Path)
	if err != nil {
		p.Error = apperr.Wrap(err, apperr.CodePluginLoadFailure, "plugin path not readable").Error()
		return p
	}
	if !info.IsDir() {
		p.Entry = filepath.ToSlash(filepath.Base(p.Path))
		p.Path = filepath.Dir(p.Path)
		p.SingleFile = true
		p.Available = true
		return p
	}

	pkg, err := readPackageJSON(filepath.Join(p.Path, "package.json"))
	if err == nil {
		if pkg.DisplayName != "" {
			p.DisplayName = pkg.DisplayName
		}
		p.Entry = pkg.entry()
	}
	if p.Entry == "" {
		p.Entry = "index.js"
	}
	if _, err := os.Stat(filepath.Join(p.Path, filepath.FromSlash(p.Entry))); err != nil {
		p.Error = apperr.Wrap(err, apperr.CodePluginLoadFailure, "plugin entry not found",
			apperr.Field("entry", p.Entry)).Error()
		return p
	}
	p.Available = true
	return p
}

func (l *Loader) absPath(p string) string {
	if strings.HasPrefix(p, "~") && l.home != "" {
		p = filepath.Join(l.home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.workspace, p)
	}
	return filepath.Clean(p)
}

// autoSpecs lists openui plugin packages found among the workspace
// package.json dependencies, sorted by name.
func (l *Loader) autoSpecs() []Spec {
	pkg, err := readPackageJSON(filepath.Join(l.workspace, "package.json"))
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Debug("package.json unreadable, skipping plugin auto-detection", "err", err)
		}
		return nil
	}
	names := make([]string, 0)
	for _, deps := range []map[string]string{pkg.Dependencies, pkg.DevDependencies} {
		for name := range deps {
			if autoPluginName.MatchString(name) {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	out := make([]Spec, 0, len(names))
	for i, name := range names {
		if i > 0 && names[i-1] == name {
			continue
		}
		out = append(out, Spec{Name: name})
	}
	return out
}

type packageJSON struct {
	DisplayName     string            `json:"displayName"`
	Module          string            `json:"module"`
	Main            string            `json:"main"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (p packageJSON) entry() string {
	for _, candidate := range []string{p.Module, p.Main} {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "./")
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func readPackageJSON(file string) (packageJSON, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return packageJSON{}, err
	}
	var pkg packageJSON
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return packageJSON{}, err
	}
	return pkg, nil
}
