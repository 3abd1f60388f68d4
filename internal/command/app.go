package command

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"openui/cli/internal/config"
	"openui/cli/internal/dispatch"
	"openui/cli/internal/skills"
)

func init() {
	// -v is --verbose.
	cli.VersionFlag = &cli.BoolFlag{Name: "version", Usage: "print the version"}
}

type Deps struct {
	Version    string
	LoadConfig func(config.Flags) (config.Config, error)
	// Serve runs the proxy until ctx ends. wrapped is the command given
	// after "--", if any.
	Serve  func(ctx context.Context, cfg config.Config, wrapped []string) error
	Skills func(ctx context.Context, workspace string) ([]skills.Skill, error)
	Agents func(ctx context.Context, workspace string) (dispatch.Detection, error)
	Stdout io.Writer
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:      "openui",
		Usage:     "development proxy and IDE agent bridge",
		Version:   deps.Version,
		ArgsUsage: "[-- command to run alongside]",
		Flags:     serveFlags(),
		Action: func(c *cli.Context) error {
			return runServe(c, deps)
		},
		Commands: []*cli.Command{
			{
				Name:      "serve",
				Usage:     "wrap the app on --app-port with the toolbar",
				ArgsUsage: "[-- command to run alongside]",
				Flags:     serveFlags(),
				Action: func(c *cli.Context) error {
					return runServe(c, deps)
				},
			},
			{
				Name:  "skills",
				Usage: "print the skills discovered for the workspace as JSON",
				Flags: []cli.Flag{workspaceFlag()},
				Action: func(c *cli.Context) error {
					workspace, err := resolveWorkspace(c)
					if err != nil {
						return err
					}
					if deps.Skills == nil {
						return errors.New("skills lister is not configured")
					}
					list, err := deps.Skills(c.Context, workspace)
					if err != nil {
						return err
					}
					if list == nil {
						list = []skills.Skill{}
					}
					return writeJSON(deps.Stdout, map[string]any{"skills": list})
				},
			},
			{
				Name:  "agents",
				Usage: "print the agents a prompt could be dispatched to from this shell",
				Flags: []cli.Flag{workspaceFlag()},
				Action: func(c *cli.Context) error {
					workspace, err := resolveWorkspace(c)
					if err != nil {
						return err
					}
					if deps.Agents == nil {
						return errors.New("agent detector is not configured")
					}
					d, err := deps.Agents(c.Context, workspace)
					if err != nil {
						return err
					}
					return writeJSON(deps.Stdout, d)
				},
			},
		},
	}
}

func workspaceFlag() cli.Flag {
	return &cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "path to the repository of the developed app"}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "port OpenUI listens on"},
		&cli.IntFlag{Name: "app-port", Aliases: []string{"a"}, Usage: "port of the developed app to wrap"},
		workspaceFlag(),
		&cli.BoolFlag{Name: "silent", Aliases: []string{"s"}, Usage: "do not open a browser or prompt"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug output"},
	}
}

func flagsFrom(c *cli.Context) config.Flags {
	return config.Flags{
		Port:      c.Int("port"),
		AppPort:   c.Int("app-port"),
		Workspace: c.String("workspace"),
		Silent:    c.Bool("silent"),
		Verbose:   c.Bool("verbose"),
	}
}

func runServe(c *cli.Context, deps Deps) error {
	load := deps.LoadConfig
	if load == nil {
		load = config.Load
	}
	cfg, err := load(flagsFrom(c))
	if err != nil {
		return err
	}
	if deps.Serve == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.Serve(c.Context, cfg, c.Args().Slice())
}

func resolveWorkspace(c *cli.Context) (string, error) {
	return config.ResolveWorkspace(c.String("workspace"), config.LoadConfig().Workspace)
}

func writeJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
