package gql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/backend/internal/graph"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	maxFrameSize = 1 << 20

	// graphql-transport-ws close codes
	closeBadRequest      = 4400
	closeUnauthorized    = 4401
	closeInitTimeout     = 4408
	closeSubscriberExist = 4409
	closeInitTwice       = 4429
)

// protocol maps the two GraphQL websocket sub-protocols onto the same state machine.
type protocol struct {
	name      string
	start     string
	stop      string
	data      string
	keepAlive string
	// strict protocols close the socket on misuse instead of replying with an error
	strict bool
}

var (
	// subscriptions-transport-ws, spoken by Apollo Server 2 clients
	legacyWS = protocol{name: "graphql-ws", start: "start", stop: "stop", data: "data", keepAlive: "ka"}
	// graphql-ws library
	transportWS = protocol{name: "graphql-transport-ws", start: "subscribe", stop: "complete", data: "next", keepAlive: "ping", strict: true}
)

const (
	msgConnectionInit      = "connection_init"
	msgConnectionAck       = "connection_ack"
	msgConnectionError     = "connection_error"
	msgConnectionTerminate = "connection_terminate"
	msgPing                = "ping"
	msgPong                = "pong"
	msgError               = "error"
	msgComplete            = "complete"
)

type inboundMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// operation is one running start/subscribe request.
type operation struct {
	cancel context.CancelFunc
}

type outgoingMessage struct {
	ID      string      `json:"id,omitempty"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// connection 单个 WebSocket 连接的状态
type connection struct {
	conn   *websocket.Conn
	proto  protocol
	schema *graph.Schema
	log    zerolog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	initialised bool
	ops         map[string]*operation
	wg          sync.WaitGroup
}

// handleWebSocket 处理 WebSocket 订阅连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	proto := legacyWS
	if conn.Subprotocol() == transportWS.name {
		proto = transportWS
	}

	c := &connection{
		conn:   conn,
		proto:  proto,
		schema: h.schema,
		log:    h.log.With().Str("protocol", proto.name).Str("remote", r.RemoteAddr).Logger(),
		ops:    make(map[string]*operation),
	}

	c.log.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		c.wg.Wait()
		_ = conn.Close()
		c.log.Debug().Msg("websocket disconnected")
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go c.keepAliveLoop(ctx, h.keepAlive)
	if proto.strict {
		go c.awaitInit(ctx, h.initTimeout)
	}

	c.readLoop(ctx)
}

func (c *connection) readLoop(ctx context.Context) {
	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !c.handleMessage(ctx, msg) {
			return
		}
	}
}

// handleMessage reports false when the connection must be closed.
func (c *connection) handleMessage(ctx context.Context, msg inboundMessage) bool {
	switch msg.Type {
	case msgConnectionInit:
		c.mu.Lock()
		again := c.initialised
		c.initialised = true
		c.mu.Unlock()

		if again && c.proto.strict {
			c.closeWith(closeInitTwice, "Too many initialisation requests")
			return false
		}
		c.send(outgoingMessage{Type: msgConnectionAck})
		if !c.proto.strict {
			c.send(outgoingMessage{Type: c.proto.keepAlive})
		}
		return true

	case c.proto.start:
		return c.startOperation(ctx, msg)

	case c.proto.stop:
		c.stopOperation(msg.ID)
		return true

	case msgConnectionTerminate:
		return false

	case msgPing:
		if c.proto.strict {
			c.send(outgoingMessage{Type: msgPong})
		}
		return true

	case msgPong:
		return true

	default:
		if c.proto.strict {
			c.closeWith(closeBadRequest, fmt.Sprintf("Invalid message type %q", msg.Type))
			return false
		}
		c.send(outgoingMessage{ID: msg.ID, Type: msgError, Payload: errorPayload("unsupported message type: " + msg.Type)})
		return true
	}
}

func (c *connection) startOperation(ctx context.Context, msg inboundMessage) bool {
	c.mu.Lock()
	initialised := c.initialised
	c.mu.Unlock()

	if !initialised {
		if c.proto.strict {
			c.closeWith(closeUnauthorized, "Unauthorized")
			return false
		}
		c.send(outgoingMessage{Type: msgConnectionError, Payload: errorPayload("connection not initialised")})
		return true
	}

	if msg.ID == "" {
		if c.proto.strict {
			c.closeWith(closeBadRequest, "operation id is required")
			return false
		}
		c.send(outgoingMessage{Type: msgError, Payload: errorPayload("operation id is required")})
		return true
	}

	var req graph.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Query == "" {
		if c.proto.strict {
			c.closeWith(closeBadRequest, "invalid operation payload")
			return false
		}
		c.send(outgoingMessage{ID: msg.ID, Type: msgError, Payload: errorPayload("invalid operation payload")})
		return true
	}

	opCtx, cancel := context.WithCancel(ctx)
	op := &operation{cancel: cancel}

	c.mu.Lock()
	if _, exists := c.ops[msg.ID]; exists {
		c.mu.Unlock()
		cancel()
		if c.proto.strict {
			c.closeWith(closeSubscriberExist, fmt.Sprintf("Subscriber for %s already exists", msg.ID))
			return false
		}
		c.send(outgoingMessage{ID: msg.ID, Type: msgError, Payload: errorPayload("operation id already in use")})
		return true
	}
	c.ops[msg.ID] = op
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(msg.ID, op)

		if graph.OperationType(req) == "subscription" {
			c.runSubscription(opCtx, msg.ID, op, req)
			return
		}
		c.runSingle(opCtx, msg.ID, op, req)
	}()

	return true
}

// runSingle executes a query or mutation once. The id is released before the
// final frame so the client may reuse it as soon as it sees the operation end.
func (c *connection) runSingle(ctx context.Context, id string, op *operation, req graph.Request) {
	res := c.schema.Do(ctx, req)
	if ctx.Err() != nil {
		return
	}
	c.release(id, op)

	if isRequestError(res) {
		c.sendError(id, res)
		return
	}
	c.send(outgoingMessage{ID: id, Type: c.proto.data, Payload: res})
	c.send(outgoingMessage{ID: id, Type: msgComplete})
}

func (c *connection) runSubscription(ctx context.Context, id string, op *operation, req graph.Request) {
	c.log.Debug().Str("id", id).Msg("subscription started")

	for res := range c.schema.Subscribe(ctx, req) {
		// keep draining after cancellation so the executor can exit
		if ctx.Err() != nil {
			continue
		}
		if isRequestError(res) {
			// cancelling unwinds the executor; the loop drains what is left
			c.release(id, op)
			c.sendError(id, res)
			continue
		}
		c.send(outgoingMessage{ID: id, Type: c.proto.data, Payload: res})
	}

	if ctx.Err() == nil {
		c.release(id, op)
		c.send(outgoingMessage{ID: id, Type: msgComplete})
	}
	c.log.Debug().Str("id", id).Msg("subscription finished")
}

// isRequestError reports a result that carries no data, which ends the operation.
func isRequestError(res *graph.Result) bool {
	return res.Data == nil && res.HasErrors()
}

func (c *connection) sendError(id string, res *graph.Result) {
	var payload interface{} = res.Errors
	if !c.proto.strict {
		payload = res.Errors[0]
	}
	c.send(outgoingMessage{ID: id, Type: msgError, Payload: payload})
}

func (c *connection) stopOperation(id string) {
	c.mu.Lock()
	op, ok := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()

	if ok {
		op.cancel()
	}
}

// release cancels op and frees its id unless a newer operation already took it.
func (c *connection) release(id string, op *operation) {
	op.cancel()
	c.mu.Lock()
	if c.ops[id] == op {
		delete(c.ops, id)
	}
	c.mu.Unlock()
}

func (c *connection) send(msg outgoingMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Debug().Err(err).Str("type", msg.Type).Msg("websocket write failed")
	}
}

func (c *connection) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.log.Debug().Int("code", code).Str("reason", reason).Msg("closing websocket")
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}

// awaitInit 在超时前未收到 connection_init 时以 4408 关闭连接
func (c *connection) awaitInit(ctx context.Context, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	c.mu.Lock()
	initialised := c.initialised
	c.mu.Unlock()
	if initialised {
		return
	}

	c.closeWith(closeInitTimeout, "Connection initialisation timeout")
	// unblock the read loop even if the peer never answers the close frame
	_ = c.conn.SetReadDeadline(time.Now())
}

// keepAliveLoop 定期发送 ping 与协议层心跳
func (c *connection) keepAliveLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
			if !c.proto.strict {
				c.send(outgoingMessage{Type: c.proto.keepAlive})
			}
		}
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
