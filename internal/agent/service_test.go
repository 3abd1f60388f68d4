package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openui/cli/internal/apperr"
	"openui/cli/internal/bridge"
	"openui/cli/internal/dispatch"
	"openui/cli/internal/integrations"
	"openui/cli/internal/logging"
	"openui/cli/internal/skills"
)

type fakeBridge struct {
	mu       sync.Mutex
	handlers map[string]bridge.HandlerFunc
	states   []SharedState
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{handlers: map[string]bridge.HandlerFunc{}}
}

func (b *fakeBridge) Handle(op string, fn bridge.HandlerFunc) {
	b.mu.Lock()
	b.handlers[op] = fn
	b.mu.Unlock()
}

func (b *fakeBridge) SetState(v any) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, v.(SharedState))
	return uint64(len(b.states)), nil
}

func (b *fakeBridge) call(t *testing.T, op string, caller bridge.Caller, payload any) (any, error) {
	t.Helper()
	b.mu.Lock()
	fn := b.handlers[op]
	b.mu.Unlock()
	require.NotNil(t, fn, op)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return fn(context.Background(), caller, raw)
}

func (b *fakeBridge) stateSeq() []State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]State, 0, len(b.states))
	for _, s := range b.states {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func (b *fakeBridge) last() SharedState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[len(b.states)-1]
}

type stubRouter struct {
	mu        sync.Mutex
	err       error
	requests  []dispatch.Request
	detection dispatch.Detection
}

func (r *stubRouter) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return dispatch.Outcome{Integration: "stub"}, r.err
}

func (r *stubRouter) Detect(context.Context) dispatch.Detection { return r.detection }

type noticeLog struct {
	mu       sync.Mutex
	messages []string
}

func (n *noticeLog) Notify(_ context.Context, _ string, message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *noticeLog) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func newTestService(t *testing.T, router Router) (*Service, *fakeBridge, *noticeLog) {
	t.Helper()
	b := newFakeBridge()
	notices := &noticeLog{}
	svc := NewService(Options{
		Bridge:      b,
		Router:      router,
		Notifier:    notices,
		Workspace:   "shop",
		SettleDelay: 10 * time.Millisecond,
	})
	svc.Register(context.Background())
	t.Cleanup(svc.Close)
	return svc, b, notices
}

func textMessage(text string) UserMessage {
	return UserMessage{ContentItems: []ContentItem{{Type: ContentTypeText, Text: text}}}
}

func TestService_StateSequenceOnSuccess(t *testing.T) {
	router := &stubRouter{}
	svc, b, notices := newTestService(t, router)

	require.NoError(t, svc.SendUserMessage(context.Background(), textMessage("hi")))
	svc.Wait()
	require.Eventually(t, func() bool { return svc.Status().State == StateIdle }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{StateIdle, StateWorking, StateCompleted, StateIdle}, b.stateSeq())
	assert.Empty(t, notices.all())

	b.mu.Lock()
	var sawCompletion bool
	for _, s := range b.states {
		if s.State == StateCompleted {
			sawCompletion = s.StateDescription == CompletionDescription
		}
	}
	b.mu.Unlock()
	assert.True(t, sawCompletion)
}

func TestService_DispatchFailureReturnsToIdleWithNotice(t *testing.T) {
	router := &stubRouter{err: apperr.New(apperr.CodeIntegrationCallFailure, "command not found")}
	svc, b, notices := newTestService(t, router)

	require.NoError(t, svc.SendUserMessage(context.Background(), textMessage("hi")))
	svc.Wait()

	assert.Equal(t, []State{StateIdle, StateWorking, StateIdle}, b.stateSeq())
	assert.Equal(t, []string{"OpenUI: Failed to dispatch prompt — command not found"}, notices.all())
}

func TestService_DispatchFailureLogLevel(t *testing.T) {
	cases := []struct {
		err   error
		level string
	}{
		{apperr.New(apperr.CodeDispatchNoRoute, "no route"), `"level":"WARN"`},
		{errors.New("connection reset"), `"level":"ERROR"`},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		svc := NewService(Options{
			Bridge:      newFakeBridge(),
			Router:      &stubRouter{err: c.err},
			Notifier:    &noticeLog{},
			SettleDelay: 10 * time.Millisecond,
			Logger:      logging.NewLogger(logging.Options{Writer: &buf}),
		})
		require.NoError(t, svc.SendUserMessage(context.Background(), textMessage("hi")))
		svc.Wait()
		svc.Close()
		assert.Contains(t, buf.String(), c.level, c.err.Error())
		assert.Contains(t, buf.String(), `"msg":"dispatch failed"`)
	}
}

func TestService_UnsupportedHostNoticeIsVerbatim(t *testing.T) {
	router := &stubRouter{err: apperr.New(apperr.CodeDispatchHostUnsupported, dispatch.UnsupportedIDEMessage)}
	svc, _, notices := newTestService(t, router)

	require.NoError(t, svc.SendUserMessage(context.Background(), textMessage("hi")))
	svc.Wait()
	assert.Equal(t, []string{dispatch.UnsupportedIDEMessage}, notices.all())
}

func TestService_AgentFailureSetsFailed(t *testing.T) {
	router := &stubRouter{err: apperr.New(apperr.CodeIntegrationAgentFailure, "agent crashed")}
	svc, b, notices := newTestService(t, router)

	require.NoError(t, svc.SendUserMessage(context.Background(), textMessage("hi")))
	svc.Wait()
	require.Eventually(t, func() bool { return svc.Status().State == StateIdle }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{StateIdle, StateWorking, StateFailed, StateIdle}, b.stateSeq())
	assert.Empty(t, notices.all())
}

func TestService_TargetDirectiveBecomesRoute(t *testing.T) {
	router := &stubRouter{}
	svc, _, _ := newTestService(t, router)

	msg := textMessage("make it pop")
	msg.ContentItems = append(msg.ContentItems, TargetDirective("Codex"))
	require.NoError(t, svc.SendUserMessage(context.Background(), msg))
	svc.Wait()

	require.Len(t, router.requests, 1)
	req := router.requests[0]
	assert.Equal(t, "Codex", req.TargetAgent)
	assert.NotContains(t, req.Prompt, "OPENUI_TARGET_AGENT")
	assert.Contains(t, req.Prompt, "make it pop")
}

func TestService_ReportState(t *testing.T) {
	svc, b, _ := newTestService(t, &stubRouter{})

	_, err := b.call(t, OpReportState, bridge.Caller{PeerID: "tab", Role: bridge.RoleBrowser}, map[string]string{"state": "thinking"})
	assert.True(t, apperr.HasCode(err, apperr.CodeAgentStateForbidden))

	_, err = b.call(t, OpReportState, bridge.Caller{PeerID: "ide", Role: bridge.RoleAgent}, map[string]string{"state": "napping"})
	assert.True(t, apperr.HasCode(err, apperr.CodeAgentMessageInvalid))

	_, err = b.call(t, OpReportState, bridge.Caller{PeerID: "ide", Role: bridge.RoleAgent},
		map[string]string{"state": "calling_tool", "description": " Reading files "})
	require.NoError(t, err)
	assert.Equal(t, Status{State: StateCallingTool, Description: "Reading files"}, svc.Status())
	assert.Equal(t, StateCallingTool, b.last().State)
}

func TestService_IdentityFromDetection(t *testing.T) {
	router := &stubRouter{detection: dispatch.Detection{
		AppName: "Visual Studio Code",
		Family:  dispatch.FamilyVSCode,
		Agents: []dispatch.AgentInfo{
			{ID: integrations.IDCline, Name: "Cline", Kind: integrations.KindExtension, Installed: true},
			{ID: integrations.IDCodex, Name: "Codex", Kind: integrations.KindExtension, Installed: true},
		},
	}}
	_, b, _ := newTestService(t, router)

	first := b.last()
	assert.True(t, first.Available)
	assert.Equal(t, "Visual Studio Code", first.AgentName)
	assert.Equal(t, "shop | detected: Cline, Codex", first.AgentDescription)
	assert.Equal(t, StateIdle, first.State)

	out, err := b.call(t, OpListAgents, bridge.Caller{}, nil)
	require.NoError(t, err)
	assert.Equal(t, router.detection, out)
}

type fakeSkills struct {
	invalidated int
}

func (f *fakeSkills) Get(context.Context) ([]skills.Skill, error) {
	return []skills.Skill{{Name: "review", Description: "Review code", Source: skills.SourceWorkspace}}, nil
}

func (f *fakeSkills) Invalidate() { f.invalidated++ }

func TestService_ListSkills(t *testing.T) {
	b := newFakeBridge()
	src := &fakeSkills{}
	svc := NewService(Options{Bridge: b, Router: &stubRouter{}, Skills: src})
	svc.Register(context.Background())

	out, err := b.call(t, OpListSkills, bridge.Caller{}, nil)
	require.NoError(t, err)
	assert.Len(t, out.(map[string]any)["skills"], 1)
	assert.Zero(t, src.invalidated)

	_, err = b.call(t, OpListSkills, bridge.Caller{}, map[string]bool{"refresh": true})
	require.NoError(t, err)
	assert.Equal(t, 1, src.invalidated)
}

type spyIntegration struct {
	id        string
	name      string
	installed bool

	mu    sync.Mutex
	calls []integrations.Request
}

func (s *spyIntegration) ID() string                     { return s.id }
func (s *spyIntegration) Name() string                   { return s.name }
func (s *spyIntegration) Kind() integrations.Kind        { return integrations.KindExtension }
func (s *spyIntegration) Installed(context.Context) bool { return s.installed }

func (s *spyIntegration) Call(_ context.Context, req integrations.Request) error {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return nil
}

type vscodeHost struct{}

func (vscodeHost) AppName(context.Context) string { return "Visual Studio Code" }

func TestService_EndToEndOverBridge(t *testing.T) {
	names := map[string]string{
		integrations.IDCline:    "Cline",
		integrations.IDRooCode:  "Roo Code",
		integrations.IDKiloCode: "Kilo Code",
		integrations.IDCodex:    "Codex",
		integrations.IDCopilot:  "Copilot Chat",
	}
	registry := integrations.NewRegistry()
	spies := map[string]*spyIntegration{}
	for _, id := range integrations.ExtensionPriority {
		spy := &spyIntegration{id: id, name: names[id], installed: id == integrations.IDRooCode}
		spies[id] = spy
		registry.MustRegister(spy)
	}

	hub := bridge.NewHub(nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	svc := NewService(Options{
		Bridge:      hub,
		Router:      dispatch.NewRouter(dispatch.Options{Host: vscodeHost{}, Registry: registry}),
		Workspace:   "shop",
		SettleDelay: 10 * time.Millisecond,
	})
	svc.Register(context.Background())
	t.Cleanup(svc.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tab, err := bridge.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), bridge.RoleBrowser)
	require.NoError(t, err)
	defer tab.Close()

	_, err = tab.Call(ctx, OpSendUserMessage, textMessage("make the button blue"))
	require.NoError(t, err)
	svc.Wait()

	for id, spy := range spies {
		spy.mu.Lock()
		if id == integrations.IDRooCode {
			require.Len(t, spy.calls, 1)
			assert.Contains(t, spy.calls[0].Prompt, "make the button blue")
			assert.Empty(t, spy.calls[0].Files)
			assert.Empty(t, spy.calls[0].Images)
			assert.NotNil(t, spy.calls[0].Files)
		} else {
			assert.Empty(t, spy.calls, id)
		}
		spy.mu.Unlock()
	}

	require.Eventually(t, func() bool {
		var st SharedState
		return json.Unmarshal(hub.State().State, &st) == nil && st.State == StateIdle
	}, time.Second, 5*time.Millisecond)
	var st SharedState
	require.NoError(t, json.Unmarshal(hub.State().State, &st))
	assert.Equal(t, "shop | detected: Roo Code", st.AgentDescription)
}

func TestService_RejectsMalformedMessage(t *testing.T) {
	_, b, _ := newTestService(t, &stubRouter{})
	b.mu.Lock()
	fn := b.handlers[OpSendUserMessage]
	b.mu.Unlock()
	_, err := fn(context.Background(), bridge.Caller{}, json.RawMessage(`{"contentItems":"nope"}`))
	assert.True(t, apperr.HasCode(err, apperr.CodeAgentMessageInvalid))
}
