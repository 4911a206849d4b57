package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"flowfield-rts/internal/game"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 16
	maxMessagesPerSec = 30

	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// DefaultBroadcastInterval is how often snapshots are pushed to clients.
	DefaultBroadcastInterval = 50 * time.Millisecond
)

// Message types. Outgoing "state" carries a WorldSnapshot; binary clients
// receive it as a bare msgpack frame instead of a JSON envelope.
const (
	MsgState          = "state"
	MsgError          = "error"
	MsgMove           = "move"
	MsgSelectBox      = "select_box"
	MsgSelectUnit     = "select_unit"
	MsgSelectAt       = "select_at"
	MsgSelectType     = "select_type"
	MsgSelectTypeAt   = "select_type_at"
	MsgClearSelection = "clear_selection"
	MsgHover          = "hover"
)

// Envelope wraps every outgoing JSON message.
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for single-pass decoding of incoming messages.
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// MoveMsg orders units (or the selection when IDs is empty) to a target.
type MoveMsg struct {
	IDs []int   `json:"ids,omitempty"`
	X   float32 `json:"x"`
	Y   float32 `json:"y"`
}

// PointMsg is a world position.
type PointMsg struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// BoxMsg is a selection rectangle, corners in any order.
type BoxMsg struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

// UnitMsg names one unit.
type UnitMsg struct {
	ID int `json:"id"`
}

// TypeMsg names one unit type.
type TypeMsg struct {
	Type string `json:"type"`
}

// ErrorMsg reports a rejected command.
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// Client represents one WebSocket connection.
type Client struct {
	hub     *WebSocketHub
	conn    *websocket.Conn
	send    chan wsFrame
	ip      string
	binary  bool // msgpack snapshots
	limiter *rate.Limiter
}

// wsFrame is one queued write.
type wsFrame struct {
	kind int // websocket.TextMessage or websocket.BinaryMessage
	data []byte
}

// WebSocketHub manages all WebSocket connections with DoS protection and
// pushes engine snapshots at a fixed interval.
type WebSocketHub struct {
	engine   EngineInterface
	logger   *zap.Logger
	upgrader websocket.Upgrader
	interval time.Duration

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// Connection limiting per IP
	wsLimiter *WebSocketRateLimiter

	stopChan chan struct{}
	stopOnce sync.Once
	doneChan chan struct{}

	// Broadcast scratch, owned by Run
	snap    game.WorldSnapshot
	jsonBuf bytes.Buffer
	packBuf bytes.Buffer
	packEnc *msgpack.Encoder
}

// HubConfig configures a WebSocketHub.
type HubConfig struct {
	AllowedOrigins    []string
	ConnectionsPerIP  int
	BroadcastInterval time.Duration
}

// NewWebSocketHub creates a new hub with connection limiting. Call Run to
// start it.
func NewWebSocketHub(engine EngineInterface, cfg HubConfig, logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectionsPerIP <= 0 {
		cfg.ConnectionsPerIP = 5
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = DefaultBroadcastInterval
	}

	h := &WebSocketHub{
		engine:     engine,
		logger:     logger,
		interval:   cfg.BroadcastInterval,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		wsLimiter:  NewWebSocketRateLimiter(cfg.ConnectionsPerIP),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}

	origins := newOriginChecker(cfg.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			logger.Warn("websocket origin rejected", zap.String("origin", origin))
			RecordConnectionRejected("origin")
			return false
		},
	}

	h.packEnc = msgpack.NewEncoder(&h.packBuf)
	h.packEnc.SetCustomStructTag("json")
	return h
}

// Run processes register/unregister events and broadcasts snapshots until
// Stop is called.
func (h *WebSocketHub) Run() {
	defer close(h.doneChan)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("websocket client connected",
				zap.String("ip", client.ip),
				zap.Bool("binary", client.binary),
				zap.Int("clients", count))
			UpdateWSConnections(count)

		case client := <-h.unregister:
			h.removeClient(client)

		case <-ticker.C:
			h.broadcastSnapshot()

		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				h.wsLimiter.Release(client.ip)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return
		}
	}
}

// Stop closes every client and ends Run.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// Done is closed once Run has returned.
func (h *WebSocketHub) Done() <-chan struct{} {
	return h.doneChan
}

// removeClient drops a client once. Closing send ends its WritePump.
func (h *WebSocketHub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
		h.wsLimiter.Release(client.ip)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("websocket client disconnected",
			zap.String("ip", client.ip),
			zap.Int("clients", count))
		UpdateWSConnections(count)
	}
}

// broadcastSnapshot encodes the latest snapshot once per wire format and
// queues it for every client. Slow clients miss frames rather than stall
// the loop.
func (h *WebSocketHub) broadcastSnapshot() {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 || !h.engine.SnapshotInto(&h.snap) {
		return
	}

	var textFrame, binFrame []byte

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		var frame wsFrame
		if client.binary {
			if binFrame == nil {
				binFrame = h.encodeMsgpack()
				if binFrame == nil {
					continue
				}
			}
			frame = wsFrame{kind: websocket.BinaryMessage, data: binFrame}
		} else {
			if textFrame == nil {
				textFrame = h.encodeJSON()
				if textFrame == nil {
					continue
				}
			}
			frame = wsFrame{kind: websocket.TextMessage, data: textFrame}
		}

		select {
		case client.send <- frame:
			IncrementWSMessages("out")
		default:
			// Client too slow, drop frame
		}
	}
}

func (h *WebSocketHub) encodeJSON() []byte {
	h.jsonBuf.Reset()
	if err := json.NewEncoder(&h.jsonBuf).Encode(Envelope{T: MsgState, Data: &h.snap}); err != nil {
		h.logger.Error("encode snapshot", zap.Error(err))
		return nil
	}
	return append([]byte(nil), h.jsonBuf.Bytes()...)
}

func (h *WebSocketHub) encodeMsgpack() []byte {
	h.packBuf.Reset()
	if err := h.packEnc.Encode(&h.snap); err != nil {
		h.logger.Error("encode snapshot", zap.Error(err))
		return nil
	}
	return append([]byte(nil), h.packBuf.Bytes()...)
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection. "?format=msgpack" selects binary
// snapshot frames; everything else is JSON text.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		RecordConnectionRejected("ws_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.wsLimiter.Allow(ip) {
		h.logger.Warn("websocket rejected: per-IP limit", zap.String("ip", ip))
		RecordConnectionRejected("ws_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		h.wsLimiter.Release(ip) // Release the slot we reserved
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan wsFrame, sendBufSize),
		ip:      ip,
		binary:  r.URL.Query().Get("format") == "msgpack",
		limiter: rate.NewLimiter(maxMessagesPerSec, maxMessagesPerSec),
	}

	select {
	case h.register <- client:
	case <-h.stopChan:
		h.wsLimiter.Release(ip)
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// ReadPump reads commands from the connection until it fails.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopChan:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.String("ip", c.ip), zap.Error(err))
			}
			return
		}
		IncrementWSMessages("in")

		if !c.limiter.Allow() {
			RecordConnectionRejected("ws_rate")
			c.sendError("rate limited")
			continue
		}

		c.handleMessage(message)
	}
}

// WritePump writes queued frames and keepalive pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(frame.kind, frame.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError queues an error envelope. Sending on a closed channel means the
// hub already dropped this client.
func (c *Client) sendError(msg string) {
	raw, err := json.Marshal(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
	if err != nil {
		return
	}
	defer func() { recover() }()
	select {
	case c.send <- wsFrame{kind: websocket.TextMessage, data: raw}:
	default:
	}
}

// handleMessage routes an incoming message (single-pass decode via InEnvelope)
// into a queued engine command.
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("invalid message")
		return
	}

	cmd, err := c.decodeCommand(env)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	if err := c.hub.engine.Submit(cmd); err != nil {
		c.sendError(err.Error())
	}
}

// wsError is a client-facing decode failure.
type wsError string

func (e wsError) Error() string { return string(e) }

func (c *Client) decodeCommand(env InEnvelope) (game.Command, error) {
	switch env.T {
	case MsgMove:
		var m MoveMsg
		if err := json.Unmarshal(env.D, &m); err != nil {
			return game.Command{}, wsError("invalid move")
		}
		target := mgl32.Vec2{m.X, m.Y}
		if !c.hub.engine.IsInGrid(c.hub.engine.WorldToGrid(target)) {
			return game.Command{}, wsError("target outside grid")
		}
		if max := c.hub.engine.Limits().MaxMoveBatch; max > 0 && len(m.IDs) > max {
			return game.Command{}, wsError("too many ids")
		}
		if len(m.IDs) == 0 {
			return game.Command{Kind: game.CmdMoveSelected, Point: target}, nil
		}
		return game.Command{Kind: game.CmdMove, UnitIDs: m.IDs, Point: target}, nil

	case MsgSelectBox:
		var m BoxMsg
		if err := json.Unmarshal(env.D, &m); err != nil {
			return game.Command{}, wsError("invalid select_box")
		}
		return game.Command{Kind: game.CmdSelectBox, Point: mgl32.Vec2{m.X1, m.Y1}, Corner: mgl32.Vec2{m.X2, m.Y2}}, nil

	case MsgSelectUnit:
		var m UnitMsg
		if err := json.Unmarshal(env.D, &m); err != nil {
			return game.Command{}, wsError("invalid select_unit")
		}
		return game.Command{Kind: game.CmdSelectUnit, UnitIDs: []int{m.ID}}, nil

	case MsgSelectAt, MsgSelectTypeAt, MsgHover:
		var m PointMsg
		if err := json.Unmarshal(env.D, &m); err != nil {
			return game.Command{}, wsError("invalid " + env.T)
		}
		kind := game.CmdSelectAt
		switch env.T {
		case MsgSelectTypeAt:
			kind = game.CmdSelectTypeAt
		case MsgHover:
			kind = game.CmdHover
		}
		return game.Command{Kind: kind, Point: mgl32.Vec2{m.X, m.Y}}, nil

	case MsgSelectType:
		var m TypeMsg
		if err := json.Unmarshal(env.D, &m); err != nil || m.Type == "" {
			return game.Command{}, wsError("invalid select_type")
		}
		return game.Command{Kind: game.CmdSelectType, TypeName: m.Type}, nil

	case MsgClearSelection:
		return game.Command{Kind: game.CmdClearSelection}, nil
	}
	return game.Command{}, wsError("unknown message type " + env.T)
}
