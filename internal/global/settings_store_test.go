package global

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openui/cli/internal/apperr"
)

func TestSettingsStore_LoadOrInit_CreatesDefaultFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "openui")
	store := NewSettingsStore(dir)

	cfg, err := store.LoadOrInit()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, FallbackLowestPriority, cfg.Dispatch.Fallback)
	assert.Equal(t, 200*time.Millisecond, cfg.SettleDelay())

	b, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	text := string(b)
	assert.Contains(t, text, "[dispatch]")
	assert.Contains(t, text, "settle_ms = 200")
	assert.Regexp(t, `fallback = ['"]lowest_priority['"]`, text)
	assert.Regexp(t, `log_level = ['"]info['"]`, text)
}

func TestSettingsStore_ReadsAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	content := `
log_level = "DEBUG"

[dispatch]
fallback = "None"
settle_ms = -5

[ide]
app_name = " Cursor "
extension_dirs = ["/opt/ext", " ", "~/custom/ext"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(content), 0o644))
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := NewSettingsStore(dir).LoadOrInit()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, FallbackNone, cfg.Dispatch.Fallback)
	assert.Equal(t, 200, cfg.Dispatch.SettleMS)
	assert.Equal(t, "Cursor", cfg.IDE.AppName)
	assert.Equal(t, []string{"/opt/ext", filepath.Join(home, "custom", "ext")}, cfg.IDE.ExtensionDirs)
}

func TestSettingsStore_SaveRoundTrip(t *testing.T) {
	store := NewSettingsStore(t.TempDir())
	in := Settings{LogLevel: "warn", Dispatch: DispatchSettings{Fallback: FallbackNone, SettleMS: 50}}
	require.NoError(t, store.Save(in))

	out, err := store.LoadOrInit()
	require.NoError(t, err)
	assert.Equal(t, "warn", out.LogLevel)
	assert.Equal(t, FallbackNone, out.Dispatch.Fallback)
	assert.Equal(t, 50*time.Millisecond, out.SettleDelay())
	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSettingsStore_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte("log_level = "), 0o644))
	_, err := NewSettingsStore(dir).LoadOrInit()
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConfigParseInvalidFormat, apperr.CodeOf(err))
}
