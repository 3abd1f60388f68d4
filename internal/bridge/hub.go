package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"openui/cli/internal/apperr"
	"openui/cli/internal/logging"
	"openui/cli/internal/protocol"
)

const (
	readLimitBytes int64 = 1 << 20 // 1 MiB
	writeTimeout         = 2 * time.Second
)

type Role string

const (
	RoleBrowser Role = "browser"
	RoleAgent   Role = "agent"
)

func parseRole(v string) Role {
	if Role(strings.ToLower(strings.TrimSpace(v))) == RoleAgent {
		return RoleAgent
	}
	return RoleBrowser
}

// Caller identifies the peer that issued an inbound call.
type Caller struct {
	PeerID string
	Role   Role
}

type HandlerFunc func(ctx context.Context, caller Caller, payload json.RawMessage) (any, error)

type peerConn struct {
	id      string
	role    Role
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

type pendingCall struct {
	peer  *peerConn
	reply chan protocol.Message
}

// Hub is the host side of the bridge: one shared versioned state broadcast to
// every peer, plus named procedures callable in both directions.
type Hub struct {
	logger *slog.Logger

	mu       sync.Mutex
	peers    map[string]*peerConn
	order    []string
	handlers map[string]HandlerFunc
	pending  map[string]pendingCall
	onJoin   []func(Caller)
	onLeave  []func(Caller)

	// stateMu serializes state writes so every peer observes versions in order.
	stateMu sync.Mutex
	state   json.RawMessage
	version uint64

	seq atomic.Uint64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logging.OrDiscard(logger).With("module", "bridge"),
		peers:    map[string]*peerConn{},
		handlers: map[string]HandlerFunc{},
		pending:  map[string]pendingCall{},
		state:    json.RawMessage("{}"),
	}
}

// Handle registers fn for inbound calls named op. Registering the same op
// again replaces the handler.
func (h *Hub) Handle(op string, fn HandlerFunc) {
	h.mu.Lock()
	h.handlers[op] = fn
	h.mu.Unlock()
}

func (h *Hub) OnConnect(fn func(Caller)) {
	h.mu.Lock()
	h.onJoin = append(h.onJoin, fn)
	h.mu.Unlock()
}

func (h *Hub) OnDisconnect(fn func(Caller)) {
	h.mu.Lock()
	h.onLeave = append(h.onLeave, fn)
	h.mu.Unlock()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Debug("bridge accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimitBytes)
	peer := &peerConn{
		id:   "peer_" + strconv.FormatUint(h.seq.Add(1), 10),
		role: parseRole(r.URL.Query().Get("role")),
		conn: conn,
		done: make(chan struct{}),
	}
	h.attach(peer)
	defer h.detach(peer)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("bridge read ended", "peer", peer.id, "err", err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			h.logger.Debug("bridge frame dropped", "peer", peer.id,
				"err", apperr.Wrap(err, apperr.CodeBridgeProtocolInvalid, "decode frame"))
			continue
		}
		switch msg.Type {
		case protocol.TypeCall:
			go h.serveCall(ctx, peer, msg)
		case protocol.TypeRes:
			h.resolve(peer, msg)
		default:
			h.logger.Debug("bridge frame ignored", "peer", peer.id, "type", msg.Type, "op", msg.Op)
		}
	}
}

// attach registers the peer and sends it the current snapshot before any
// later broadcast can reach it.
func (h *Hub) attach(peer *peerConn) {
	h.stateMu.Lock()
	h.mu.Lock()
	h.peers[peer.id] = peer
	h.order = append(h.order, peer.id)
	hooks := append([]func(Caller){}, h.onJoin...)
	h.mu.Unlock()
	frame := h.stateFrameLocked()
	h.writePeer(peer, frame)
	h.stateMu.Unlock()

	h.logger.Debug("bridge peer connected", "peer", peer.id, "role", peer.role)
	caller := Caller{PeerID: peer.id, Role: peer.role}
	for _, fn := range hooks {
		fn(caller)
	}
}

func (h *Hub) detach(peer *peerConn) {
	h.mu.Lock()
	delete(h.peers, peer.id)
	for i, id := range h.order {
		if id == peer.id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	hooks := append([]func(Caller){}, h.onLeave...)
	h.mu.Unlock()
	close(peer.done)
	_ = peer.conn.Close(websocket.StatusNormalClosure, "")

	h.logger.Debug("bridge peer disconnected", "peer", peer.id, "role", peer.role)
	caller := Caller{PeerID: peer.id, Role: peer.role}
	for _, fn := range hooks {
		fn(caller)
	}
}

func (h *Hub) serveCall(ctx context.Context, peer *peerConn, msg protocol.Message) {
	h.mu.Lock()
	fn := h.handlers[msg.Op]
	h.mu.Unlock()

	if fn == nil {
		h.writeMessage(peer, protocol.Reply(msg, nil))
		return
	}
	out, err := fn(ctx, Caller{PeerID: peer.id, Role: peer.role}, msg.Payload)
	if err != nil {
		code := string(apperr.CodeOf(err))
		if code == "" {
			code = string(apperr.CodeBridgeCallFailure)
		}
		h.writeMessage(peer, protocol.ReplyError(msg, code, err.Error()))
		return
	}
	h.writeMessage(peer, protocol.Reply(msg, out))
}

func (h *Hub) resolve(peer *peerConn, msg protocol.Message) {
	h.mu.Lock()
	call, ok := h.pending[msg.ID]
	if ok && call.peer == peer {
		delete(h.pending, msg.ID)
	}
	h.mu.Unlock()
	if !ok || call.peer != peer {
		return
	}
	call.reply <- msg
}

// SetState replaces the shared state and broadcasts it to every peer. It
// returns the new version.
func (h *Hub) SetState(v any) (uint64, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.version++
	h.state = raw
	frame := h.stateFrameLocked()
	for _, peer := range h.snapshotPeers("") {
		h.writePeer(peer, frame)
	}
	return h.version, nil
}

// State returns the current snapshot.
func (h *Hub) State() protocol.StateSnapshot {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return protocol.StateSnapshot{Version: h.version, State: append(json.RawMessage(nil), h.state...)}
}

func (h *Hub) stateFrameLocked() []byte {
	raw, _ := json.Marshal(protocol.Message{
		ID:      "state_" + strconv.FormatUint(h.version, 10),
		Type:    protocol.TypeState,
		Op:      "state",
		Payload: protocol.MustRaw(protocol.StateSnapshot{Version: h.version, State: h.state}),
	})
	return raw
}

// Emit sends a one-way event to every peer of role, or to all peers when
// role is empty.
func (h *Hub) Emit(role Role, op string, payload any) {
	raw, err := json.Marshal(protocol.Message{
		ID:      "evt_" + strconv.FormatUint(h.seq.Add(1), 10),
		Type:    protocol.TypeEvent,
		Op:      op,
		Payload: protocol.MustRaw(payload),
	})
	if err != nil {
		return
	}
	for _, peer := range h.snapshotPeers(role) {
		h.writePeer(peer, raw)
	}
}

// Call invokes op on the most recently connected peer of role and waits for
// its reply. Callers bound the wait through ctx.
func (h *Hub) Call(ctx context.Context, role Role, op string, payload any) (json.RawMessage, error) {
	peers := h.snapshotPeers(role)
	if len(peers) == 0 {
		return nil, apperr.New(apperr.CodeBridgePeerNotFound, "no connected peer",
			apperr.Field("role", string(role)), apperr.Field("op", op))
	}
	return h.callPeer(ctx, peers[len(peers)-1], op, payload)
}

// CallPeer invokes op on the peer with peerID and waits for its reply.
func (h *Hub) CallPeer(ctx context.Context, peerID string, op string, payload any) (json.RawMessage, error) {
	h.mu.Lock()
	peer := h.peers[peerID]
	h.mu.Unlock()
	if peer == nil {
		return nil, apperr.New(apperr.CodeBridgePeerNotFound, "peer not connected",
			apperr.Field("peer", peerID), apperr.Field("op", op))
	}
	return h.callPeer(ctx, peer, op, payload)
}

func (h *Hub) callPeer(ctx context.Context, peer *peerConn, op string, payload any) (json.RawMessage, error) {
	id := uuid.NewString()
	reply := make(chan protocol.Message, 1)
	h.mu.Lock()
	h.pending[id] = pendingCall{peer: peer, reply: reply}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	if err := h.writeMessage(peer, protocol.Message{ID: id, Type: protocol.TypeCall, Op: op, Payload: protocol.MustRaw(payload)}); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeBridgeCallFailure, "send call", apperr.Field("op", op))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-peer.done:
		return nil, apperr.New(apperr.CodeBridgePeerNotFound, "peer disconnected", apperr.Field("op", op))
	case res := <-reply:
		if res.Error != nil {
			return nil, apperr.New(apperr.CodeBridgeCallFailure, res.Error.Message,
				apperr.Field("op", op), apperr.Field("remote_code", res.Error.Code))
		}
		return res.Payload, nil
	}
}

// PeerCount returns the number of connected peers of role, or of all peers
// when role is empty.
func (h *Hub) PeerCount(role Role) int {
	return len(h.snapshotPeers(role))
}

// Close disconnects every peer. Hijacked connections are not closed by
// http.Server.Shutdown.
func (h *Hub) Close() {
	for _, peer := range h.snapshotPeers("") {
		_ = peer.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// snapshotPeers returns peers in connection order.
func (h *Hub) snapshotPeers(role Role) []*peerConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*peerConn, 0, len(h.order))
	for _, id := range h.order {
		peer := h.peers[id]
		if peer == nil || (role != "" && peer.role != role) {
			continue
		}
		out = append(out, peer)
	}
	return out
}

func (h *Hub) writeMessage(peer *peerConn, msg protocol.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.writePeer(peer, raw)
}

func (h *Hub) writePeer(peer *peerConn, data []byte) error {
	if peer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	peer.writeMu.Lock()
	defer peer.writeMu.Unlock()
	return peer.conn.Write(ctx, websocket.MessageText, data)
}
