package application

import (
	"io"

	"openui/cli/internal/config"
)

// StartOptions carries the resolved configuration plus the process-level
// pieces the runtime needs.
type StartOptions struct {
	Config config.Config
	// ConfigDir holds settings.toml; empty selects global.DefaultConfigDir.
	ConfigDir string
	// LogWriter receives the JSON log stream; nil means stderr.
	LogWriter io.Writer
	// WrappedCommand runs alongside the server; the process exits with it.
	WrappedCommand []string
	Hooks          RuntimeHooks
}
