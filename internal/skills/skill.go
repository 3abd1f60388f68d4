package skills

type Source string

const (
	SourceWorkspace Source = "workspace"
	SourceGlobal    Source = "global"
)

type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Source      Source `json:"source"`
}

// Merge keeps every workspace skill and adds global skills whose names were
// not already seen. Order is workspace first, then global, each in input order.
func Merge(workspace, global []Skill) []Skill {
	seen := make(map[string]struct{}, len(workspace)+len(global))
	out := make([]Skill, 0, len(workspace)+len(global))
	for _, s := range workspace {
		if _, dup := seen[s.Name]; dup {
			continue
		}
		seen[s.Name] = struct{}{}
		out = append(out, s)
	}
	for _, s := range global {
		if _, dup := seen[s.Name]; dup {
			continue
		}
		seen[s.Name] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cloneSkills(in []Skill) []Skill {
	out := make([]Skill, len(in))
	copy(out, in)
	return out
}
