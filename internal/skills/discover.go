package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"openui/cli/internal/apperr"
	"openui/cli/internal/logging"
)

// Roots are the two directories holding one subdirectory per skill.
type Roots struct {
	Workspace string
	Global    string
}

// DefaultRoots returns <workspace>/.agents/skills and <home>/.agents/skills.
// Global is empty when the home directory cannot be resolved.
func DefaultRoots(workspaceDir string) Roots {
	roots := Roots{Workspace: filepath.Join(workspaceDir, ".agents", "skills")}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		roots.Global = filepath.Join(home, ".agents", "skills")
	}
	return roots
}

func (r Roots) key() string {
	return r.Workspace + "|" + r.Global
}

type Scanner struct {
	roots  Roots
	logger *slog.Logger
}

func NewScanner(roots Roots, logger *slog.Logger) *Scanner {
	return &Scanner{roots: roots, logger: logging.OrDiscard(logger).With("module", "skills")}
}

func (s *Scanner) Roots() Roots {
	return s.roots
}

// Discover scans both roots concurrently and merges the results, workspace
// first. Unreadable directories or metadata never fail the scan; only a
// cancelled context does.
func (s *Scanner) Discover(ctx context.Context) ([]Skill, error) {
	var workspace, global []Skill
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		workspace = s.scanDir(gctx, s.roots.Workspace, SourceWorkspace)
		return gctx.Err()
	})
	g.Go(func() error {
		global = s.scanDir(gctx, s.roots.Global, SourceGlobal)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(workspace, global), nil
}

func (s *Scanner) scanDir(ctx context.Context, dir string, source Source) []Skill {
	if dir == "" {
		return []Skill{}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("skip skills directory", "dir", dir,
				"err", apperr.Wrap(err, apperr.CodeSkillsDiscoveryFailure, "read skills directory"))
		}
		return []Skill{}
	}
	out := make([]Skill, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return out
		}
		if !entry.IsDir() {
			continue
		}
		out = append(out, s.readSkill(filepath.Join(dir, entry.Name()), entry.Name(), source))
	}
	return out
}

func (s *Scanner) readSkill(dir, name string, source Source) Skill {
	skill := Skill{Name: name, Description: name, Source: source}
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	if err != nil {
		s.logger.Debug("skill metadata unreadable", "skill", name,
			"err", apperr.Wrap(err, apperr.CodeSkillsMetadataInvalid, "read skill metadata"))
		return skill
	}
	skill.Description = ParseDescription(raw, name)
	return skill
}
