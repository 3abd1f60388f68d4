package dispatch

import "strings"

// Family is the IDE host kind, derived from the host's self-reported name.
type Family string

const (
	FamilyAntigravity Family = "antigravity"
	FamilyWindsurf    Family = "windsurf"
	FamilyCursor      Family = "cursor"
	FamilyTrae        Family = "trae"
	FamilyVSCode      Family = "vscode"
	FamilyUnknown     Family = "unknown"
)

// DetectFamily matches appName case-insensitively, in order: antigravity,
// windsurf, cursor, trae, then "visual studio code" or exactly "code".
func DetectFamily(appName string) Family {
	name := strings.ToLower(strings.TrimSpace(appName))
	switch {
	case name == "":
		return FamilyUnknown
	case strings.Contains(name, "antigravity"):
		return FamilyAntigravity
	case strings.Contains(name, "windsurf"):
		return FamilyWindsurf
	case strings.Contains(name, "cursor"):
		return FamilyCursor
	case strings.Contains(name, "trae"):
		return FamilyTrae
	case strings.Contains(name, "visual studio code") || name == "code":
		return FamilyVSCode
	default:
		return FamilyUnknown
	}
}

// builtinFor is the dedicated integration of a non-generic family.
func builtinFor(f Family) (string, bool) {
	switch f {
	case FamilyAntigravity, FamilyWindsurf, FamilyCursor, FamilyTrae:
		return string(f), true
	}
	return "", false
}
