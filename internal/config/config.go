package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"openui/cli/internal/apperr"
	"openui/cli/internal/plugins"
)

const (
	FileName    = "openui.config.json"
	DefaultPort = 3100
)

type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
)

// EnvConfig is everything read from OPENUI_* variables.
type EnvConfig struct {
	Port       int
	AppPort    int
	Workspace  string
	Env        Environment
	NoOpen     bool
	LogLevel   string
	LogFormat  string
	ToolbarDir string
	IDEAppName string
}

// Flags are the command line values; zero means unset.
type Flags struct {
	Port      int
	AppPort   int
	Workspace string
	Silent    bool
	Verbose   bool
}

// File is the workspace openui.config.json.
type File struct {
	Port        *int           `json:"port,omitempty"`
	AppPort     *int           `json:"appPort,omitempty"`
	AutoPlugins *bool          `json:"autoPlugins,omitempty"`
	Plugins     []plugins.Spec `json:"plugins,omitempty"`
	EddyMode    string         `json:"eddyMode,omitempty"`
}

// Config is the resolved startup configuration. It does not change after the
// server starts.
type Config struct {
	Port        int
	AppPort     int
	Workspace   string
	Silent      bool
	Verbose     bool
	AutoPlugins bool
	Plugins     []plugins.Spec
	EddyMode    string
	Env         Environment
	NoOpen      bool
	LogLevel    string
	LogFormat   string
	ToolbarDir  string
	IDEAppName  string
}

func (c Config) Development() bool {
	return c.Env == EnvDevelopment
}

// LoadDotEnv loads <workspace>/.env when present. Variables already set in
// the process environment win.
func LoadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return apperr.Wrap(err, apperr.CodeConfigParseInvalidFormat, "parse .env", apperr.Field("path", path))
	}
	return nil
}

// Load is the startup path: it finds the workspace, applies its .env, then
// reads the environment and resolves flags over it.
func Load(flags Flags) (Config, error) {
	workspace, err := ResolveWorkspace(flags.Workspace, strings.TrimSpace(os.Getenv("OPENUI_WORKSPACE")))
	if err != nil {
		return Config{}, err
	}
	if err := LoadDotEnv(workspace); err != nil {
		return Config{}, err
	}
	flags.Workspace = workspace
	return Resolve(flags, LoadConfig())
}

func LoadConfig() EnvConfig {
	env := Environment(strings.ToLower(strings.TrimSpace(os.Getenv("OPENUI_ENV"))))
	if env == "" {
		env = Environment(strings.ToLower(strings.TrimSpace(os.Getenv("NODE_ENV"))))
	}
	switch env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		env = EnvProduction
	}
	return EnvConfig{
		Port:       atoiOrDefault(os.Getenv("OPENUI_PORT"), 0),
		AppPort:    atoiOrDefault(os.Getenv("OPENUI_APP_PORT"), 0),
		Workspace:  strings.TrimSpace(os.Getenv("OPENUI_WORKSPACE")),
		Env:        env,
		NoOpen:     os.Getenv("OPENUI_NO_OPEN") == "1" || env == EnvTest,
		LogLevel:   strings.TrimSpace(os.Getenv("OPENUI_LOG_LEVEL")),
		LogFormat:  strings.TrimSpace(os.Getenv("OPENUI_LOG_FORMAT")),
		ToolbarDir: strings.TrimSpace(os.Getenv("OPENUI_TOOLBAR_DIR")),
		IDEAppName: strings.TrimSpace(os.Getenv("OPENUI_IDE_APP_NAME")),
	}
}

// ResolveWorkspace picks the workspace from flags, then env, then the
// working directory, and checks that it exists.
func ResolveWorkspace(flag, env string) (string, error) {
	dir := flag
	if dir == "" {
		dir = env
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "resolve working directory")
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeConfigValidateInvalidValue, "resolve workspace", apperr.Field("workspace", dir))
	}
	st, err := os.Stat(abs)
	if err != nil || !st.IsDir() {
		return "", apperr.New(apperr.CodeConfigValidateInvalidValue, "workspace does not exist", apperr.Field("workspace", abs))
	}
	return abs, nil
}

// ReadFile reads the workspace config file. A missing file is not an error.
func ReadFile(workspace string) (*File, error) {
	path := filepath.Join(workspace, FileName)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "read "+FileName, apperr.Field("path", path))
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigParseInvalidFormat, "parse "+FileName, apperr.Field("path", path))
	}
	return &f, nil
}

// Resolve merges flags, env and the workspace file (in that order of
// precedence) over the defaults and validates the result.
func Resolve(flags Flags, env EnvConfig) (Config, error) {
	workspace, err := ResolveWorkspace(flags.Workspace, env.Workspace)
	if err != nil {
		return Config{}, err
	}
	file, err := ReadFile(workspace)
	if err != nil {
		return Config{}, err
	}
	if file == nil {
		file = &File{}
	}

	cfg := Config{
		Port:        firstPositive(flags.Port, env.Port, deref(file.Port), DefaultPort),
		AppPort:     firstPositive(flags.AppPort, env.AppPort, deref(file.AppPort)),
		Workspace:   workspace,
		Silent:      flags.Silent,
		Verbose:     flags.Verbose,
		AutoPlugins: file.AutoPlugins == nil || *file.AutoPlugins,
		Plugins:     file.Plugins,
		EddyMode:    file.EddyMode,
		Env:         env.Env,
		NoOpen:      env.NoOpen,
		LogLevel:    env.LogLevel,
		LogFormat:   env.LogFormat,
		ToolbarDir:  env.ToolbarDir,
		IDEAppName:  env.IDEAppName,
	}
	if cfg.Env == "" {
		cfg.Env = EnvProduction
	}
	if flags.Verbose {
		cfg.LogLevel = "debug"
	}
	if cfg.ToolbarDir == "" {
		cfg.ToolbarDir = defaultToolbarDir(cfg.Env, workspace)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.AppPort == 0 {
		return apperr.New(apperr.CodeConfigValidateInvalidValue,
			"app port is required: pass --app-port or set appPort in "+FileName)
	}
	if err := validatePort("port", c.Port); err != nil {
		return err
	}
	if err := validatePort("app_port", c.AppPort); err != nil {
		return err
	}
	if c.Port == c.AppPort {
		return apperr.New(apperr.CodeConfigValidateInvalidValue, "OpenUI port and app port cannot be the same",
			apperr.Field("port", c.Port))
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return apperr.New(apperr.CodeConfigValidateInvalidValue, "port out of range", apperr.Field(name, port))
	}
	return nil
}

// defaultToolbarDir is the bundled overlay next to the binary in production
// and the workspace's installed package otherwise.
func defaultToolbarDir(env Environment, workspace string) string {
	if env == EnvProduction {
		if exe, err := os.Executable(); err == nil && exe != "" {
			return filepath.Join(filepath.Dir(exe), "toolbar-bridged")
		}
	}
	return filepath.Join(workspace, "node_modules", "@openui-xio", "toolbar-bridged", "dist", "toolbar-main")
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func atoiOrDefault(v string, fallback int) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
		if n > 1<<20 {
			return fallback
		}
	}
	return n
}
