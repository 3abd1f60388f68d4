package ide

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"openui/cli/internal/apperr"
	"openui/cli/internal/bridge"
	"openui/cli/internal/logging"
)

const (
	OpRegister          = "ide.register"
	OpExecuteCommand    = "ide.executeCommand"
	OpFixWithDiagnostic = "ide.fixWithDiagnostic"
	OpShowMessage       = "ide.showMessage"
)

const (
	defaultCallTimeout = 10 * time.Second
	messageTimeout     = 2 * time.Second
)

// Hub is the bridge surface the companion needs.
type Hub interface {
	Handle(op string, fn bridge.HandlerFunc)
	OnDisconnect(fn func(bridge.Caller))
	Call(ctx context.Context, role bridge.Role, op string, payload any) (json.RawMessage, error)
	CallPeer(ctx context.Context, peerID string, op string, payload any) (json.RawMessage, error)
	Emit(role bridge.Role, op string, payload any)
	PeerCount(role bridge.Role) int
}

type Options struct {
	Hub Hub
	// AppName overrides whatever the companion reports.
	AppName string
	// ExtensionDirs are scanned for installed extensions in addition to the
	// companion's own list.
	ExtensionDirs []string
	CallTimeout   time.Duration
	Getenv        func(string) string
	Logger        *slog.Logger
}

// Registration is what an agent-role peer announces about its host editor.
type Registration struct {
	AppName    string   `json:"appName"`
	Extensions []string `json:"extensions"`
}

// Companion drives the editor through the agent-role peer that sent
// ide.register, or the latest agent peer until one has. It implements
// integrations.IDE and dispatch.Host.
type Companion struct {
	hub           Hub
	override      string
	extensionDirs []string
	callTimeout   time.Duration
	getenv        func(string) string
	logger        *slog.Logger

	mu       sync.Mutex
	peerID   string
	reg      Registration
	onChange []func(context.Context)
}

func NewCompanion(opts Options) *Companion {
	c := &Companion{
		hub:           opts.Hub,
		override:      strings.TrimSpace(opts.AppName),
		extensionDirs: opts.ExtensionDirs,
		callTimeout:   opts.CallTimeout,
		getenv:        opts.Getenv,
		logger:        logging.OrDiscard(opts.Logger).With("module", "ide"),
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	if c.getenv == nil {
		c.getenv = os.Getenv
	}
	return c
}

// DefaultExtensionDirs lists the per-editor extension folders under home.
func DefaultExtensionDirs(home string) []string {
	if home == "" {
		return nil
	}
	names := []string{".vscode", ".cursor", ".windsurf", ".trae", ".antigravity"}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, filepath.Join(home, n, "extensions"))
	}
	return out
}

// OnChange registers fn to run whenever the registration changes.
func (c *Companion) OnChange(fn func(context.Context)) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

// Register installs ide.register and clears the registration when the
// registering peer leaves.
func (c *Companion) Register() {
	c.hub.Handle(OpRegister, c.handleRegister)
	c.hub.OnDisconnect(func(caller bridge.Caller) {
		c.mu.Lock()
		if caller.PeerID != c.peerID {
			c.mu.Unlock()
			return
		}
		c.peerID = ""
		c.reg = Registration{}
		hooks := append([]func(context.Context){}, c.onChange...)
		c.mu.Unlock()
		c.logger.Info("ide companion disconnected", "peer", caller.PeerID)
		for _, fn := range hooks {
			fn(context.Background())
		}
	})
}

func (c *Companion) handleRegister(ctx context.Context, caller bridge.Caller, payload json.RawMessage) (any, error) {
	if caller.Role != bridge.RoleAgent {
		return nil, apperr.New(apperr.CodeAgentStateForbidden, "only agent peers may register",
			apperr.Field("peer", caller.PeerID))
	}
	var reg Registration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeAgentMessageInvalid, "decode registration")
	}
	reg.AppName = strings.TrimSpace(reg.AppName)

	c.mu.Lock()
	c.peerID = caller.PeerID
	c.reg = reg
	hooks := append([]func(context.Context){}, c.onChange...)
	c.mu.Unlock()

	c.logger.Info("ide companion registered", "peer", caller.PeerID, "app", reg.AppName,
		"extensions", len(reg.Extensions))
	for _, fn := range hooks {
		fn(context.WithoutCancel(ctx))
	}
	return map[string]string{"appName": c.AppName(ctx)}, nil
}

// AppName resolves the host editor name: configured override, then the
// companion's registration, then the terminal the CLI was started from.
func (c *Companion) AppName(_ context.Context) string {
	if c.override != "" {
		return c.override
	}
	c.mu.Lock()
	name := c.reg.AppName
	c.mu.Unlock()
	if name != "" {
		return name
	}
	if strings.EqualFold(c.getenv("TERM_PROGRAM"), "vscode") {
		return "Visual Studio Code"
	}
	return ""
}

func (c *Companion) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID != ""
}

// ExtensionInstalled reports whether extensionID is in the companion's list
// or has a "<id>-<version>" folder in one of the extension dirs.
func (c *Companion) ExtensionInstalled(_ context.Context, extensionID string) bool {
	id := strings.ToLower(extensionID)
	c.mu.Lock()
	for _, ext := range c.reg.Extensions {
		if strings.ToLower(ext) == id {
			c.mu.Unlock()
			return true
		}
	}
	c.mu.Unlock()

	for _, dir := range c.extensionDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(strings.ToLower(e.Name()), id+"-") {
				return true
			}
		}
	}
	return false
}

type commandRequest struct {
	Command string `json:"command"`
	Args    []any  `json:"args"`
}

type diagnosticRequest struct {
	Prompt  string `json:"prompt"`
	Command string `json:"command"`
}

type messageRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (c *Companion) ExecuteCommand(ctx context.Context, command string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	return c.call(ctx, c.callTimeout, OpExecuteCommand, commandRequest{Command: command, Args: args})
}

func (c *Companion) FixWithDiagnostic(ctx context.Context, prompt, command string) error {
	return c.call(ctx, c.callTimeout, OpFixWithDiagnostic, diagnosticRequest{Prompt: prompt, Command: command})
}

// ShowMessage is best effort; failures are logged only.
func (c *Companion) ShowMessage(ctx context.Context, level, message string) {
	if c.hub.PeerCount(bridge.RoleAgent) == 0 {
		return
	}
	if err := c.call(ctx, messageTimeout, OpShowMessage, messageRequest{Level: level, Message: message}); err != nil {
		c.logger.Debug("show message failed", "err", err)
	}
}

func (c *Companion) call(ctx context.Context, timeout time.Duration, op string, payload any) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c.mu.Lock()
	peerID := c.peerID
	c.mu.Unlock()
	var err error
	if peerID != "" {
		_, err = c.hub.CallPeer(cctx, peerID, op, payload)
	} else {
		_, err = c.hub.Call(cctx, bridge.RoleAgent, op, payload)
	}
	if err == nil {
		return nil
	}
	if remote, _ := apperr.FieldsOf(err)["remote_code"].(string); remote == string(apperr.CodeIntegrationAgentFailure) {
		// oops reports the innermost code, so the failure is re-raised rather than wrapped.
		return apperr.New(apperr.CodeIntegrationAgentFailure, err.Error(), apperr.Field("op", op))
	}
	return err
}
