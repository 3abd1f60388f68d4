package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openui/cli/internal/apperr"
	"openui/cli/internal/plugins"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENUI_ENV", "NODE_ENV", "OPENUI_PORT", "OPENUI_APP_PORT", "OPENUI_WORKSPACE",
		"OPENUI_NO_OPEN", "OPENUI_LOG_LEVEL", "OPENUI_LOG_FORMAT", "OPENUI_TOOLBAR_DIR", "OPENUI_IDE_APP_NAME",
	} {
		t.Setenv(k, "")
	}
}

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := LoadConfig()
	assert.Equal(t, EnvProduction, cfg.Env)
	assert.False(t, cfg.NoOpen)
	assert.Zero(t, cfg.Port)
	assert.Zero(t, cfg.AppPort)
	assert.Empty(t, cfg.LogLevel)
}

func TestLoadConfig_EnvFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("NODE_ENV", "development")
	assert.Equal(t, EnvDevelopment, LoadConfig().Env)

	t.Setenv("OPENUI_ENV", "test")
	cfg := LoadConfig()
	assert.Equal(t, EnvTest, cfg.Env)
	assert.True(t, cfg.NoOpen, "test mode never opens a browser")

	t.Setenv("OPENUI_ENV", "staging")
	assert.Equal(t, EnvProduction, LoadConfig().Env)

	t.Setenv("OPENUI_NO_OPEN", "1")
	t.Setenv("OPENUI_PORT", "4100")
	t.Setenv("OPENUI_APP_PORT", "x")
	cfg = LoadConfig()
	assert.True(t, cfg.NoOpen)
	assert.Equal(t, 4100, cfg.Port)
	assert.Zero(t, cfg.AppPort, "malformed values are ignored")
}

func TestResolve_Precedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfigFile(t, dir, `{"port": 3200, "appPort": 3000, "autoPlugins": false, "eddyMode": "pair",
		"plugins": ["@openui-xio/react-plugin", {"name": "local", "path": "./tools/plugin"}]}`)

	cfg, err := Resolve(Flags{Workspace: dir}, LoadConfig())
	require.NoError(t, err)
	assert.Equal(t, 3200, cfg.Port)
	assert.Equal(t, 3000, cfg.AppPort)
	assert.False(t, cfg.AutoPlugins)
	assert.Equal(t, "pair", cfg.EddyMode)
	assert.Equal(t, []plugins.Spec{{Name: "@openui-xio/react-plugin"}, {Name: "local", Path: "./tools/plugin"}}, cfg.Plugins)

	t.Setenv("OPENUI_PORT", "3300")
	cfg, err = Resolve(Flags{Workspace: dir}, LoadConfig())
	require.NoError(t, err)
	assert.Equal(t, 3300, cfg.Port, "env beats the file")

	cfg, err = Resolve(Flags{Workspace: dir, Port: 3400, AppPort: 5173, Verbose: true}, LoadConfig())
	require.NoError(t, err)
	assert.Equal(t, 3400, cfg.Port, "flags beat env")
	assert.Equal(t, 5173, cfg.AppPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestResolve_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := Resolve(Flags{Workspace: dir, AppPort: 3000}, LoadConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.True(t, cfg.AutoPlugins)
	assert.Empty(t, cfg.Plugins)
	abs, _ := filepath.Abs(dir)
	assert.Equal(t, abs, cfg.Workspace)
	assert.NotEmpty(t, cfg.ToolbarDir)

	t.Setenv("OPENUI_ENV", "development")
	cfg, err = Resolve(Flags{Workspace: dir, AppPort: 3000}, LoadConfig())
	require.NoError(t, err)
	assert.True(t, cfg.Development())
	assert.Equal(t, filepath.Join(abs, "node_modules", "@openui-xio", "toolbar-bridged", "dist", "toolbar-main"), cfg.ToolbarDir)
}

func TestResolve_ValidationErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	env := LoadConfig()

	cases := []Flags{
		{Workspace: dir},
		{Workspace: dir, AppPort: 3100},
		{Workspace: dir, AppPort: 70000},
		{Workspace: filepath.Join(dir, "missing"), AppPort: 3000},
	}
	for _, flags := range cases {
		_, err := Resolve(flags, env)
		require.Error(t, err)
		assert.Equal(t, apperr.CodeConfigValidateInvalidValue, apperr.CodeOf(err))
		assert.True(t, apperr.IsFatal(err))
	}
}

func TestResolve_BadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfigFile(t, dir, `{"appPort": "three thousand"`)
	_, err := Resolve(Flags{Workspace: dir}, LoadConfig())
	assert.Equal(t, apperr.CodeConfigParseInvalidFormat, apperr.CodeOf(err))
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENUI_APP_PORT=4000\nOPENUI_LOG_LEVEL=warn\n"), 0o644))
	t.Setenv("OPENUI_APP_PORT", "")
	t.Setenv("OPENUI_LOG_LEVEL", "error")
	require.NoError(t, os.Unsetenv("OPENUI_APP_PORT"))

	require.NoError(t, LoadDotEnv(dir))
	assert.Equal(t, "4000", os.Getenv("OPENUI_APP_PORT"))
	assert.Equal(t, "error", os.Getenv("OPENUI_LOG_LEVEL"))

	assert.NoError(t, LoadDotEnv(t.TempDir()), "missing .env is fine")
}

func TestLoad_AppliesWorkspaceDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENUI_APP_PORT=5173\n"), 0o644))
	require.NoError(t, os.Unsetenv("OPENUI_APP_PORT"))
	t.Cleanup(func() { _ = os.Unsetenv("OPENUI_APP_PORT") })
	t.Setenv("OPENUI_WORKSPACE", dir)

	cfg, err := Load(Flags{})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Workspace)
	assert.Equal(t, 5173, cfg.AppPort)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestResolve_CarriesLogFormat(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENUI_LOG_FORMAT", "text")
	cfg, err := Resolve(Flags{Workspace: t.TempDir(), AppPort: 5173}, LoadConfig())
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.LogFormat)
}
