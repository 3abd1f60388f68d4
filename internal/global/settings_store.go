package global

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"openui/cli/internal/apperr"
)

const (
	settingsTOMLFileName = "settings.toml"

	FallbackLowestPriority = "lowest_priority"
	FallbackNone           = "none"

	defaultSettleMS = 200
)

type DispatchSettings struct {
	Fallback string `toml:"fallback"`
	SettleMS int    `toml:"settle_ms"`
}

type IDESettings struct {
	AppName       string   `toml:"app_name,omitempty"`
	ExtensionDirs []string `toml:"extension_dirs,omitempty"`
}

// Settings are the user-level preferences shared by every workspace.
type Settings struct {
	LogLevel string           `toml:"log_level"`
	Dispatch DispatchSettings `toml:"dispatch"`
	IDE      IDESettings      `toml:"ide"`
}

func (s Settings) SettleDelay() time.Duration {
	return time.Duration(s.Dispatch.SettleMS) * time.Millisecond
}

type SettingsStore struct {
	dir string
}

func NewSettingsStore(dir string) *SettingsStore {
	return &SettingsStore{dir: dir}
}

func (s *SettingsStore) Path() string {
	return filepath.Join(s.dir, settingsTOMLFileName)
}

// LoadOrInit reads settings.toml, writing the defaults on first use.
func (s *SettingsStore) LoadOrInit() (Settings, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Settings{}, apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "create settings dir", apperr.Field("dir", s.dir))
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		var cfg Settings
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Settings{}, apperr.Wrap(err, apperr.CodeConfigParseInvalidFormat, "parse settings", apperr.Field("path", path))
		}
		return normalizeSettings(cfg), nil
	} else if !os.IsNotExist(err) {
		return Settings{}, apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "read settings", apperr.Field("path", path))
	}

	cfg := normalizeSettings(Settings{})
	if err := s.Save(cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Save normalizes cfg and replaces settings.toml atomically.
func (s *SettingsStore) Save(cfg Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "create settings dir", apperr.Field("dir", s.dir))
	}
	if err := writeTOMLAtomically(s.Path(), normalizeSettings(cfg)); err != nil {
		return apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "write settings", apperr.Field("path", s.Path()))
	}
	return nil
}

func normalizeSettings(cfg Settings) Settings {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		cfg.LogLevel = "info"
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Dispatch.Fallback)) {
	case FallbackNone:
		cfg.Dispatch.Fallback = FallbackNone
	default:
		cfg.Dispatch.Fallback = FallbackLowestPriority
	}
	if cfg.Dispatch.SettleMS <= 0 {
		cfg.Dispatch.SettleMS = defaultSettleMS
	}

	cfg.IDE.AppName = strings.TrimSpace(cfg.IDE.AppName)
	dirs := make([]string, 0, len(cfg.IDE.ExtensionDirs))
	for _, d := range cfg.IDE.ExtensionDirs {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, expandHome(d))
		}
	}
	cfg.IDE.ExtensionDirs = dirs
	return cfg
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
