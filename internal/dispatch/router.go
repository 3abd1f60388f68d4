package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"openui/cli/internal/apperr"
	"openui/cli/internal/integrations"
	"openui/cli/internal/logging"
)

const UnsupportedIDEMessage = "OpenUI: Your IDE is not supported. Supported: Antigravity, Cursor, Windsurf, VS Code (with Copilot/Cline/Roo Code/Codex)."

// FallbackPolicy decides what the generic host does when no extension is
// installed.
type FallbackPolicy string

const (
	// FallbackLowestPriority calls the last extension in priority order anyway.
	FallbackLowestPriority FallbackPolicy = "lowest_priority"
	// FallbackNone reports that no integration is available.
	FallbackNone FallbackPolicy = "none"
)

func ParseFallbackPolicy(v string) FallbackPolicy {
	if FallbackPolicy(strings.ToLower(strings.TrimSpace(v))) == FallbackNone {
		return FallbackNone
	}
	return FallbackLowestPriority
}

// Request is a composed prompt plus an optional routing target.
type Request struct {
	Prompt      string
	Files       []string
	Images      []string
	TargetAgent string
}

// Outcome describes which integration was invoked and why.
type Outcome struct {
	Family      Family `json:"family"`
	Integration string `json:"integration"`
	Name        string `json:"name"`
	Override    bool   `json:"override,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
}

// Host reports the running IDE's application name.
type Host interface {
	AppName(ctx context.Context) string
}

type Options struct {
	Host     Host
	Registry *integrations.Registry
	Fallback FallbackPolicy
	Logger   *slog.Logger
}

type Router struct {
	host     Host
	registry *integrations.Registry
	fallback FallbackPolicy
	logger   *slog.Logger
}

func NewRouter(opts Options) *Router {
	fallback := opts.Fallback
	if fallback == "" {
		fallback = FallbackLowestPriority
	}
	return &Router{
		host:     opts.Host,
		registry: opts.Registry,
		fallback: fallback,
		logger:   logging.OrDiscard(opts.Logger).With("module", "dispatch"),
	}
}

// Dispatch invokes exactly one integration for req, or returns an error
// without invoking any.
func (r *Router) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	family := r.family(ctx)
	call := integrations.Request{Prompt: req.Prompt, Files: nonNil(req.Files), Images: nonNil(req.Images)}

	if family == FamilyAntigravity {
		return r.invoke(ctx, Outcome{Family: family}, integrations.IDAntigravity, call)
	}
	if family == FamilyUnknown {
		return Outcome{Family: family}, apperr.New(apperr.CodeDispatchHostUnsupported, UnsupportedIDEMessage)
	}

	installed := r.probeExtensions(ctx)
	if target := strings.TrimSpace(req.TargetAgent); target != "" {
		in, known := r.registry.Lookup(target)
		switch {
		case known && in.Kind() == integrations.KindExtension && installed[in.ID()]:
			return r.invoke(ctx, Outcome{Family: family, Override: true}, in.ID(), call)
		case known && in.Kind() == integrations.KindExtension:
			r.logger.Info("target agent not installed, using default route", "target", target)
		default:
			r.logger.Info("target agent not routable, using default route", "target", target)
		}
	}

	if id, ok := builtinFor(family); ok {
		return r.invoke(ctx, Outcome{Family: family}, id, call)
	}

	for _, id := range integrations.ExtensionPriority {
		if installed[id] {
			return r.invoke(ctx, Outcome{Family: family}, id, call)
		}
	}
	if r.fallback == FallbackNone {
		return Outcome{Family: family}, apperr.New(apperr.CodeDispatchNoRoute,
			"OpenUI: No supported chat extension is installed. Install Cline, Roo Code, Kilo Code, Codex or Copilot Chat.")
	}
	last := integrations.ExtensionPriority[len(integrations.ExtensionPriority)-1]
	r.logger.Info("no extension detected, falling back", "integration", last)
	return r.invoke(ctx, Outcome{Family: family, Fallback: true}, last, call)
}

func (r *Router) invoke(ctx context.Context, out Outcome, id string, req integrations.Request) (Outcome, error) {
	in, ok := r.registry.Get(id)
	if !ok {
		return out, apperr.New(apperr.CodeDispatchNoRoute, "integration not registered", apperr.Field("integration", id))
	}
	out.Integration = in.ID()
	out.Name = in.Name()
	r.logger.Debug("dispatching prompt", "family", out.Family, "integration", out.Integration,
		"override", out.Override, "fallback", out.Fallback)
	if err := in.Call(ctx, req); err != nil {
		r.logger.Warn("integration call failed", "integration", out.Integration, "err", err)
		return out, err
	}
	return out, nil
}

// probeExtensions checks each extension integration once.
func (r *Router) probeExtensions(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	for _, in := range r.registry.ByKind(integrations.KindExtension) {
		out[in.ID()] = in.Installed(ctx)
	}
	return out
}

func (r *Router) family(ctx context.Context) Family {
	if r.host == nil {
		return FamilyUnknown
	}
	return DetectFamily(r.host.AppName(ctx))
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
