package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"openui/cli/internal/agent"
	"openui/cli/internal/apperr"
	"openui/cli/internal/appserver"
	"openui/cli/internal/bridge"
	"openui/cli/internal/config"
	"openui/cli/internal/dispatch"
	"openui/cli/internal/global"
	"openui/cli/internal/ide"
	"openui/cli/internal/integrations"
	"openui/cli/internal/lifecycle"
	"openui/cli/internal/logging"
	"openui/cli/internal/plugins"
	"openui/cli/internal/skills"
)

const shutdownTimeout = 3 * time.Second

// Application is one running control plane: the proxy server, the bridge hub
// and everything hanging off it.
type Application struct {
	cfg      config.Config
	settings global.Settings
	logger   *slog.Logger
	hooks    RuntimeHooks

	hub       *bridge.Hub
	companion *ide.Companion
	router    *dispatch.Router
	service   *agent.Service
	skills    *skills.Cache
	watcher   *skills.Watcher
	server    *appserver.Server
	listener  net.Listener
	http      *http.Server
	mgr       *lifecycle.Manager

	mu   sync.Mutex
	exit *WrappedExit
}

// StartApplication builds the runtime and binds the listening port. Nothing
// is served until Run is called.
func StartApplication(ctx context.Context, opts StartOptions) (*Application, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hooks := opts.Hooks.withDefaults()

	settings, err := LoadSettings(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, settings, opts.LogWriter)

	app := &Application{
		cfg:      cfg,
		settings: settings,
		logger:   logger,
		hooks:    hooks,
		hub:      bridge.NewHub(logger),
	}
	app.companion = NewCompanion(app.hub, cfg.IDEAppName, settings, hooks, logger)
	app.companion.Register()
	app.router = dispatch.NewRouter(dispatch.Options{
		Host:     app.companion,
		Registry: integrations.NewDefaultRegistry(app.companion),
		Fallback: dispatch.ParseFallbackPolicy(settings.Dispatch.Fallback),
		Logger:   logger,
	})

	scanner := skills.NewScanner(skillRoots(cfg.Workspace, hooks), logger)
	app.skills = skills.NewScannerCache(scanner)
	app.watcher = skills.NewWatcher(scanner.Roots(), app.skills, logger)

	app.service = agent.NewService(agent.Options{
		Bridge:      app.hub,
		Router:      app.router,
		Composer:    agent.NewComposer(agent.WorkspaceProjects{Root: cfg.Workspace}),
		Notifier:    ide.NewNotifier(app.companion, app.hub),
		Skills:      app.skills,
		Workspace:   filepath.Base(cfg.Workspace),
		SettleDelay: settings.SettleDelay(),
		Logger:      logger,
	})
	app.companion.OnChange(app.service.RefreshIdentity)
	app.watcher.OnChange(func() {
		app.hub.Emit(bridge.RoleBrowser, agent.EventSkillsChanged, nil)
	})
	app.service.Register(ctx)

	loaded := plugins.NewLoader(cfg.Workspace, logger).Load(ctx, cfg.Plugins, cfg.AutoPlugins)
	app.server, err = appserver.NewServer(appserver.Deps{
		AppPort:     cfg.AppPort,
		ToolbarDir:  cfg.ToolbarDir,
		Development: cfg.Development(),
		EddyMode:    cfg.EddyMode,
		Plugins:     loaded,
		Bridge:      app.hub,
		Skills:      app.skills,
		Logger:      logger,
	})
	if err != nil {
		app.hub.Close()
		return nil, err
	}

	app.listener, err = hooks.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		app.hub.Close()
		return nil, apperr.Wrap(err, apperr.CodeConfigPortUnavailable, "listen", apperr.Field("port", cfg.Port))
	}
	app.http = &http.Server{
		Handler:           app.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.mgr = app.buildManager(opts.WrappedCommand)
	app.logStartup(ctx)
	return app, nil
}

func (a *Application) buildManager(wrapped []string) *lifecycle.Manager {
	mgr := lifecycle.NewManager(a.logger)
	mgr.SetShutdownTimeout(shutdownTimeout)
	mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = a.http.Shutdown(shutdownCtx)
		}()
		err := a.http.Serve(a.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	mgr.AddRun("skills-watcher", a.watcher.Run)
	if !a.cfg.NoOpen && !a.cfg.Silent {
		mgr.AddRun("browser-opener", func(context.Context) error {
			if err := a.hooks.OpenBrowser(a.URL()); err != nil {
				a.logger.Debug("failed to open browser automatically", "err", err)
			}
			return nil
		})
	}
	if len(wrapped) > 0 {
		mgr.AddRun("wrapped-command", func(runCtx context.Context) error {
			return a.runWrapped(runCtx, wrapped)
		})
	}
	mgr.AddShutdown("close-bridge", func(context.Context) error {
		a.hub.Close()
		return nil
	})
	mgr.AddShutdown("drain-dispatches", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			a.service.Close()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return mgr
}

// WrappedExit is returned by Run when the wrapped command exited with a
// non-zero status.
type WrappedExit struct {
	Code int
}

func (e *WrappedExit) Error() string {
	return fmt.Sprintf("wrapped command exited with status %d", e.Code)
}

// runWrapped runs the command given after "--" with the process's stdio. Its
// exit ends the run so the caller can mirror the status.
func (a *Application) runWrapped(ctx context.Context, argv []string) error {
	cmd := a.hooks.Command(ctx, argv[0], argv[1:]...)
	cmd.Dir = a.cfg.Workspace
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	a.logger.Info("running wrapped command", "command", strings.Join(argv, " "))
	err := cmd.Run()
	if ctx.Err() != nil {
		return nil
	}
	code := 0
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
	default:
		a.logger.Error("wrapped command failed to start", "err", err)
		code = 1
	}
	a.mu.Lock()
	a.exit = &WrappedExit{Code: code}
	a.mu.Unlock()
	return lifecycle.ErrStop
}

func (a *Application) logStartup(ctx context.Context) {
	manifest := a.server.Manifest()
	for _, e := range manifest.Unavailable() {
		a.logger.Warn("plugin unavailable", "plugin", e.Name, "err", e.Error)
	}
	skillCount := 0
	if list, err := a.skills.Get(ctx); err == nil {
		skillCount = len(list)
	}
	a.logger.Info("openui ready",
		"url", a.URL(),
		"app_port", a.cfg.AppPort,
		"plugins_available", len(manifest.Available()),
		"plugins_unavailable", len(manifest.Unavailable()),
		"skills", skillCount,
	)
}

// URL is where the wrapped app is reachable through the proxy.
func (a *Application) URL() string {
	if a == nil || a.listener == nil {
		return ""
	}
	port := a.cfg.Port
	if addr, ok := a.listener.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

func (a *Application) Config() config.Config {
	return a.cfg
}

// Run serves until ctx ends, a job fails or the wrapped command exits.
func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.mgr == nil {
		return nil
	}
	if err := a.mgr.StartAndWait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exit != nil && a.exit.Code != 0 {
		return a.exit
	}
	return nil
}

// Shutdown stops the HTTP server early; Run still performs the rest of the
// teardown.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil || a.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// LoadSettings reads settings.toml from dir, or from the default config dir
// when dir is empty.
func LoadSettings(dir string) (global.Settings, error) {
	if strings.TrimSpace(dir) == "" {
		d, err := global.DefaultConfigDir()
		if err != nil {
			return global.Settings{}, err
		}
		dir = d
	}
	return global.NewSettingsStore(dir).LoadOrInit()
}

// NewLogger picks the level from --verbose, then OPENUI_LOG_LEVEL, then
// settings.toml.
func NewLogger(cfg config.Config, settings global.Settings, w io.Writer) *slog.Logger {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = settings.LogLevel
	}
	return logging.NewLogger(logging.Options{Level: level, Format: cfg.LogFormat, Writer: w, Component: "openui"})
}

// NewCompanion wires the IDE companion with the override app name and the
// extension folders from settings.
func NewCompanion(hub ide.Hub, appName string, settings global.Settings, hooks RuntimeHooks, logger *slog.Logger) *ide.Companion {
	hooks = hooks.withDefaults()
	if strings.TrimSpace(appName) == "" {
		appName = settings.IDE.AppName
	}
	var dirs []string
	if home, err := hooks.UserHomeDir(); err == nil {
		dirs = ide.DefaultExtensionDirs(home)
	}
	dirs = append(dirs, settings.IDE.ExtensionDirs...)
	return ide.NewCompanion(ide.Options{
		Hub:           hub,
		AppName:       appName,
		ExtensionDirs: dirs,
		Logger:        logger,
	})
}
