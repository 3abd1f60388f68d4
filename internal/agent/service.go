package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"openui/cli/internal/apperr"
	"openui/cli/internal/bridge"
	"openui/cli/internal/dispatch"
	"openui/cli/internal/logging"
	"openui/cli/internal/skills"
)

const (
	OpSendUserMessage = "agent.sendUserMessage"
	OpReportState     = "agent.reportState"
	OpListAgents      = "agents.list"
	OpListSkills      = "skills.list"

	// EventSkillsChanged tells browsers to refetch the skill list.
	EventSkillsChanged = "skills.changed"
)

const dispatchFailedPrefix = "OpenUI: Failed to dispatch prompt — "

// Bridge is the part of the hub the service drives.
type Bridge interface {
	Handle(op string, fn bridge.HandlerFunc)
	SetState(v any) (uint64, error)
}

type Router interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Outcome, error)
	Detect(ctx context.Context) dispatch.Detection
}

// Notifier shows a user-visible notice.
type Notifier interface {
	Notify(ctx context.Context, level, message string)
}

type SkillSource interface {
	Get(ctx context.Context) ([]skills.Skill, error)
	Invalidate()
}

// SharedState is the object every bridge peer observes.
type SharedState struct {
	Available        bool   `json:"available"`
	AgentName        string `json:"agentName"`
	AgentDescription string `json:"agentDescription"`
	State            State  `json:"state"`
	StateDescription string `json:"stateDescription,omitempty"`
}

type Options struct {
	Bridge      Bridge
	Router      Router
	Composer    *Composer
	Notifier    Notifier
	Skills      SkillSource
	Workspace   string
	SettleDelay time.Duration
	Logger      *slog.Logger
}

// Service turns overlay messages into dispatches and keeps the shared state
// in step with the agent's lifecycle.
type Service struct {
	bridge    Bridge
	router    Router
	composer  *Composer
	notifier  Notifier
	skills    SkillSource
	workspace string
	logger    *slog.Logger
	machine   *Machine

	mu     sync.Mutex
	shared SharedState

	inflight sync.WaitGroup
}

func NewService(opts Options) *Service {
	s := &Service{
		bridge:    opts.Bridge,
		router:    opts.Router,
		composer:  opts.Composer,
		notifier:  opts.Notifier,
		skills:    opts.Skills,
		workspace: opts.Workspace,
		logger:    logging.OrDiscard(opts.Logger).With("module", "agent"),
		shared:    SharedState{State: StateIdle},
	}
	if s.composer == nil {
		s.composer = NewComposer(nil)
	}
	s.machine = NewMachine(opts.SettleDelay, s.onStatus)
	return s
}

// Register installs the service's procedures on the bridge and publishes the
// initial state.
func (s *Service) Register(ctx context.Context) {
	s.bridge.Handle(OpSendUserMessage, s.handleSendUserMessage)
	s.bridge.Handle(OpReportState, s.handleReportState)
	s.bridge.Handle(OpListAgents, func(ctx context.Context, _ bridge.Caller, _ json.RawMessage) (any, error) {
		return s.router.Detect(ctx), nil
	})
	if s.skills != nil {
		s.bridge.Handle(OpListSkills, s.handleListSkills)
	}
	s.RefreshIdentity(ctx)
}

// RefreshIdentity re-detects the host and republishes the agent identity.
func (s *Service) RefreshIdentity(ctx context.Context) {
	d := s.router.Detect(ctx)
	name := d.AppName
	if name == "" {
		name = "OpenUI"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared.Available = d.Family != "" && d.Family != dispatch.FamilyUnknown
	s.shared.AgentName = name
	s.shared.AgentDescription = d.Describe(s.workspace)
	s.publishLocked()
}

func (s *Service) Shared() SharedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared
}

func (s *Service) Status() Status {
	return s.machine.Current()
}

// SendUserMessage moves to WORKING and dispatches the composed prompt in the
// background. It returns once the dispatch has started.
func (s *Service) SendUserMessage(ctx context.Context, msg UserMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg, target := ExtractTarget(msg)
	if err := s.machine.Set(StateWorking, ""); err != nil {
		return err
	}
	prompt, err := s.composer.Compose(msg)
	if err != nil {
		s.notify(ctx, "error", dispatchFailedPrefix+err.Error())
		_ = s.machine.Set(StateIdle, "")
		return err
	}

	req := dispatch.Request{Prompt: prompt, Files: []string{}, Images: []string{}, TargetAgent: target}
	dctx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.dispatch(dctx, msg.ID, req)
	}()
	return nil
}

func (s *Service) dispatch(ctx context.Context, id string, req dispatch.Request) {
	out, err := s.router.Dispatch(ctx, req)
	switch {
	case err == nil:
		s.logger.Info("prompt dispatched", "message_id", id, "integration", out.Integration,
			"override", out.Override, "fallback", out.Fallback)
		_ = s.machine.Set(StateCompleted, CompletionDescription)
	case apperr.IsAgentFailure(err):
		s.logger.Warn("agent reported failure", "message_id", id, "integration", out.Integration, "err", err)
		_ = s.machine.Set(StateFailed, err.Error())
	default:
		level := slog.LevelError
		if apperr.IsIntegration(err) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "dispatch failed", "message_id", id, "code", apperr.CodeOf(err), "err", err)
		message := dispatchFailedPrefix + err.Error()
		if apperr.HasCode(err, apperr.CodeDispatchHostUnsupported) {
			message = err.Error()
		}
		s.notify(ctx, "error", message)
		_ = s.machine.Set(StateIdle, "")
	}
}

// ReportState applies a progress report from an agent-role peer.
func (s *Service) ReportState(caller bridge.Caller, state State, description string) error {
	if caller.Role != bridge.RoleAgent {
		return apperr.New(apperr.CodeAgentStateForbidden, "only agent peers may report state",
			apperr.Field("peer", caller.PeerID), apperr.Field("role", string(caller.Role)))
	}
	return s.machine.Set(state, description)
}

// Wait blocks until background dispatches have finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) Close() {
	s.inflight.Wait()
	s.machine.Stop()
}

func (s *Service) handleSendUserMessage(ctx context.Context, _ bridge.Caller, payload json.RawMessage) (any, error) {
	var msg UserMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeAgentMessageInvalid, "decode user message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := s.SendUserMessage(ctx, msg); err != nil {
		return nil, err
	}
	return map[string]string{"id": msg.ID}, nil
}

type stateReport struct {
	State       string `json:"state"`
	Description string `json:"description"`
}

func (s *Service) handleReportState(_ context.Context, caller bridge.Caller, payload json.RawMessage) (any, error) {
	var report stateReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeAgentMessageInvalid, "decode state report")
	}
	state, ok := ParseState(report.State)
	if !ok {
		return nil, apperr.New(apperr.CodeAgentMessageInvalid, "unknown agent state", apperr.Field("state", report.State))
	}
	return nil, s.ReportState(caller, state, strings.TrimSpace(report.Description))
}

type skillsRequest struct {
	Refresh bool `json:"refresh"`
}

func (s *Service) handleListSkills(ctx context.Context, _ bridge.Caller, payload json.RawMessage) (any, error) {
	var req skillsRequest
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeAgentMessageInvalid, "decode skills request")
		}
	}
	if req.Refresh {
		s.skills.Invalidate()
	}
	list, err := s.skills.Get(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"skills": list}, nil
}

// onStatus runs with the machine lock held.
func (s *Service) onStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shared.State = st.State
	s.shared.StateDescription = st.Description
	s.publishLocked()
}

func (s *Service) publishLocked() {
	if _, err := s.bridge.SetState(s.shared); err != nil {
		s.logger.Error("publish shared state", "err", err)
	}
}

func (s *Service) notify(ctx context.Context, level, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, level, message)
}
