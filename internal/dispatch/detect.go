package dispatch

import (
	"context"
	"strings"

	"openui/cli/internal/integrations"
)

type AgentInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Kind      integrations.Kind `json:"kind"`
	Installed bool              `json:"installed"`
	Default   bool              `json:"default"`
}

// Detection is what the overlay's agent picker shows.
type Detection struct {
	AppName string      `json:"appName"`
	Family  Family      `json:"family"`
	Agents  []AgentInfo `json:"agents"`
}

// Detected returns the names of installed extensions in priority order.
func (d Detection) Detected() []string {
	out := make([]string, 0, len(d.Agents))
	for _, a := range d.Agents {
		if a.Kind == integrations.KindExtension && a.Installed {
			out = append(out, a.Name)
		}
	}
	return out
}

// Describe renders "<workspace> | detected: A, B", or just the workspace
// name when nothing is detected or the host only has its built-in chat.
func (d Detection) Describe(workspace string) string {
	names := d.Detected()
	if d.Family == FamilyAntigravity || len(names) == 0 {
		return workspace
	}
	return workspace + " | detected: " + strings.Join(names, ", ")
}

// Detect lists the agents reachable on the current host and marks the one a
// dispatch without a target would use.
func (r *Router) Detect(ctx context.Context) Detection {
	d := Detection{Family: r.family(ctx), Agents: []AgentInfo{}}
	if r.host != nil {
		d.AppName = r.host.AppName(ctx)
	}
	if d.Family == FamilyUnknown {
		return d
	}
	if id, ok := builtinFor(d.Family); ok {
		if in, found := r.registry.Get(id); found {
			d.Agents = append(d.Agents, AgentInfo{ID: in.ID(), Name: in.Name(), Kind: in.Kind(), Installed: true, Default: true})
		}
	}
	if d.Family == FamilyAntigravity {
		return d
	}

	installed := r.probeExtensions(ctx)
	defaultID := ""
	if d.Family == FamilyVSCode {
		for _, id := range integrations.ExtensionPriority {
			if installed[id] {
				defaultID = id
				break
			}
		}
		if defaultID == "" && r.fallback == FallbackLowestPriority {
			defaultID = integrations.ExtensionPriority[len(integrations.ExtensionPriority)-1]
		}
	}
	for _, in := range r.registry.ByKind(integrations.KindExtension) {
		d.Agents = append(d.Agents, AgentInfo{
			ID:        in.ID(),
			Name:      in.Name(),
			Kind:      in.Kind(),
			Installed: installed[in.ID()],
			Default:   in.ID() == defaultID,
		})
	}
	return d
}
