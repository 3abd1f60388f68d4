package application

import (
	"context"
	"log/slog"
	"path/filepath"

	"openui/cli/internal/dispatch"
	"openui/cli/internal/integrations"
	"openui/cli/internal/skills"
)

// InspectOptions configures the one-shot commands that report on the host
// without starting the server.
type InspectOptions struct {
	Workspace  string
	ConfigDir  string
	IDEAppName string
	Hooks      RuntimeHooks
	Logger     *slog.Logger
}

// DetectAgents reports which agents a dispatch could reach from this shell.
// Without a connected companion only the app-name override, TERM_PROGRAM and
// the extension folders are consulted.
func DetectAgents(ctx context.Context, opts InspectOptions) (dispatch.Detection, error) {
	settings, err := LoadSettings(opts.ConfigDir)
	if err != nil {
		return dispatch.Detection{}, err
	}
	companion := NewCompanion(nil, opts.IDEAppName, settings, opts.Hooks, opts.Logger)
	router := dispatch.NewRouter(dispatch.Options{
		Host:     companion,
		Registry: integrations.NewDefaultRegistry(companion),
		Fallback: dispatch.ParseFallbackPolicy(settings.Dispatch.Fallback),
		Logger:   opts.Logger,
	})
	return router.Detect(ctx), nil
}

// DiscoverSkills scans the workspace and global skill roots once.
func DiscoverSkills(ctx context.Context, opts InspectOptions) ([]skills.Skill, error) {
	return skills.NewScanner(skillRoots(opts.Workspace, opts.Hooks), opts.Logger).Discover(ctx)
}

func skillRoots(workspace string, hooks RuntimeHooks) skills.Roots {
	roots := skills.DefaultRoots(workspace)
	if hooks.UserHomeDir != nil {
		if home, err := hooks.UserHomeDir(); err == nil && home != "" {
			roots.Global = filepath.Join(home, ".agents", "skills")
		}
	}
	return roots
}
