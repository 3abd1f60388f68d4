package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"openui/cli/internal/application"
	"openui/cli/internal/apperr"
	"openui/cli/internal/command"
	"openui/cli/internal/config"
	"openui/cli/internal/dispatch"
	"openui/cli/internal/logging"
	"openui/cli/internal/skills"
)

var version = "dev"

var startApplication = application.StartApplication

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(logging.Options{Level: "info", Writer: os.Stderr, Component: "openui"})
	app := command.BuildApp(command.Deps{
		Version: version,
		Serve:   serve,
		Skills: func(ctx context.Context, workspace string) ([]skills.Skill, error) {
			return application.DiscoverSkills(ctx, application.InspectOptions{Workspace: workspace})
		},
		Agents: func(ctx context.Context, workspace string) (dispatch.Detection, error) {
			return application.DetectAgents(ctx, application.InspectOptions{
				Workspace:  workspace,
				IDEAppName: config.LoadConfig().IDEAppName,
			})
		},
		Stdout: os.Stdout,
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		stop()
		os.Exit(exitCode(err, logger))
	}
}

func serve(ctx context.Context, cfg config.Config, wrapped []string) error {
	app, err := startApplication(ctx, application.StartOptions{
		Config:         cfg,
		LogWriter:      os.Stderr,
		WrappedCommand: wrapped,
	})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// exitCode reports err once and picks the process status. A wrapped command's
// status is passed through without a log line; it already printed its own.
func exitCode(err error, logger *slog.Logger) int {
	var exit *application.WrappedExit
	if errors.As(err, &exit) {
		return exit.Code
	}
	attrs := []any{"err", err.Error()}
	if code := apperr.CodeOf(err); code != "" {
		attrs = append(attrs, "code", string(code))
	}
	for k, v := range apperr.FieldsOf(err) {
		attrs = append(attrs, k, v)
	}
	msg := "openui failed"
	if apperr.IsFatal(err) {
		msg = "invalid configuration"
	}
	logger.Error(msg, attrs...)
	return 1
}
