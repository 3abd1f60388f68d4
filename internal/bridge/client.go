package bridge

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"openui/cli/internal/apperr"
	"openui/cli/internal/protocol"
)

// Client is the peer side of the bridge. The IDE companion and tests use it
// to call host procedures, answer host calls and follow state.
type Client struct {
	conn *websocket.Conn

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	pending  map[string]chan protocol.Message

	states chan protocol.StateSnapshot
	events chan protocol.Message
	done   chan struct{}
	seq    atomic.Uint64
}

// Dial connects to url, a ws:// address of the bridge path. role is sent as
// the role query parameter.
func Dial(ctx context.Context, url string, role Role) (*Client, error) {
	if role != "" {
		url += "?role=" + string(role)
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimitBytes)
	c := &Client{
		conn:     conn,
		handlers: map[string]HandlerFunc{},
		pending:  map[string]chan protocol.Message{},
		states:   make(chan protocol.StateSnapshot, 64),
		events:   make(chan protocol.Message, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// States delivers every state frame in arrival order. Frames are dropped when
// the buffer is full.
func (c *Client) States() <-chan protocol.StateSnapshot {
	return c.states
}

func (c *Client) Events() <-chan protocol.Message {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Handle(op string, fn HandlerFunc) {
	c.mu.Lock()
	c.handlers[op] = fn
	c.mu.Unlock()
}

func (c *Client) Call(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	id := "c_" + strconv.FormatUint(c.seq.Add(1), 10)
	reply := make(chan protocol.Message, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, protocol.Message{ID: id, Type: protocol.TypeCall, Op: op, Payload: protocol.MustRaw(payload)}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, apperr.New(apperr.CodeBridgePeerNotFound, "bridge connection closed")
	case res := <-reply:
		if res.Error != nil {
			return nil, apperr.New(apperr.Code(res.Error.Code), res.Error.Message)
		}
		return res.Payload, nil
	}
}

func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) readLoop() {
	defer close(c.done)
	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeState:
			var snap protocol.StateSnapshot
			if json.Unmarshal(msg.Payload, &snap) == nil {
				select {
				case c.states <- snap:
				default:
				}
			}
		case protocol.TypeEvent:
			select {
			case c.events <- msg:
			default:
			}
		case protocol.TypeRes:
			c.mu.Lock()
			reply := c.pending[msg.ID]
			c.mu.Unlock()
			if reply != nil {
				reply <- msg
			}
		case protocol.TypeCall:
			go c.serveCall(msg)
		}
	}
}

func (c *Client) serveCall(msg protocol.Message) {
	c.mu.Lock()
	fn := c.handlers[msg.Op]
	c.mu.Unlock()
	ctx := context.Background()
	if fn == nil {
		_ = c.write(ctx, protocol.Reply(msg, nil))
		return
	}
	out, err := fn(ctx, Caller{PeerID: "host"}, msg.Payload)
	if err != nil {
		code := apperr.CodeOf(err)
		if code == "" {
			code = apperr.CodeBridgeCallFailure
		}
		_ = c.write(ctx, protocol.ReplyError(msg, string(code), err.Error()))
		return
	}
	_ = c.write(ctx, protocol.Reply(msg, out))
}

func (c *Client) write(ctx context.Context, msg protocol.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, raw)
}
