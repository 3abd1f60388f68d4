package integrations

import "context"

type Kind string

const (
	KindBuiltin   Kind = "builtin"
	KindExtension Kind = "extension"
)

// Request is everything an integration receives. Routing metadata never
// reaches it.
type Request struct {
	Prompt string   `json:"prompt"`
	Files  []string `json:"files"`
	Images []string `json:"images"`
}

// Integration delivers a prompt to one external agent.
type Integration interface {
	ID() string
	Name() string
	Kind() Kind
	// Installed is an existence check only. Built-in integrations are always
	// installed.
	Installed(ctx context.Context) bool
	Call(ctx context.Context, req Request) error
}

// IDE is the host editor automation surface integrations drive.
type IDE interface {
	ExtensionInstalled(ctx context.Context, extensionID string) bool
	ExecuteCommand(ctx context.Context, command string, args ...any) error
	// FixWithDiagnostic opens a source file, attaches prompt as a diagnostic
	// on the cursor line and runs command against it.
	FixWithDiagnostic(ctx context.Context, prompt, command string) error
	ShowMessage(ctx context.Context, level, message string)
}
