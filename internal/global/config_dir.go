package global

import (
	"os"
	"path/filepath"
	"strings"

	"openui/cli/internal/apperr"
)

const appDirName = "openui"

// DefaultConfigDir resolves where settings.toml lives: OPENUI_CONFIG_DIR,
// then $XDG_CONFIG_HOME/openui, then ~/.config/openui.
func DefaultConfigDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("OPENUI_CONFIG_DIR")); dir != "" {
		return expandHome(dir), nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeConfigLoadReadFailure, "resolve home directory")
	}
	return filepath.Join(home, ".config", appDirName), nil
}
