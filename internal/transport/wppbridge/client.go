// Package wppbridge connects the engine to the Node.js WhatsApp bridge over
// a websocket. The bridge owns the WhatsApp session (QR login, contacts);
// this client only exchanges JSON frames with it.
package wppbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cassio-all/generic-wpp-chatbot/internal/transport"
)

const (
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 10 * time.Second
	pingInterval      = 30 * time.Second
	maxFrameBytes     = 512 * 1024
	sendBufferSize    = 256
	reconnectBaseWait = time.Second
	reconnectMaxWait  = 30 * time.Second
)

// Client is the websocket client for the bridge. Run keeps the connection
// alive across bridge restarts; SendText/SendTyping implement
// transport.Sender.
type Client struct {
	url      string
	listener transport.Listener
	log      *slog.Logger

	mu    sync.RWMutex
	conn  *websocket.Conn
	ready bool

	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func New(url string, listener transport.Listener, log *slog.Logger) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("missing bridge url")
	}
	if listener == nil {
		return nil, errors.New("missing listener")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		url:      url,
		listener: listener,
		log:      log,
		sendCh:   make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Bridge frame types.
type bridgeFrame struct {
	Type    string          `json:"type"`
	Status  string          `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message *bridgeMessage  `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type bridgeMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"fromMe"`
	IsGroup   bool   `json:"isGroup"`
	HasMedia  bool   `json:"hasMedia"`
	Contact   struct {
		Name string `json:"name"`
	} `json:"contact"`
}

type outboundFrame struct {
	Type string       `json:"type"`
	Data outboundData `json:"data"`
}

type outboundData struct {
	To   string `json:"to"`
	Text string `json:"text,omitempty"`
}

// Run connects and pumps frames until ctx is canceled, reconnecting with
// exponential backoff when the bridge drops.
func (c *Client) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	wait := reconnectBaseWait
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		err := c.connectAndPump(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("bridge connection lost", "error", err, "retry_in", wait.String())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(wait):
		}
		wait *= 2
		if wait > reconnectMaxWait {
			wait = reconnectMaxWait
		}
	}
}

func (c *Client) connectAndPump(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("connected to whatsapp bridge", "url", c.url)

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.ready = false
		c.mu.Unlock()
		_ = conn.Close()
	}()

	go c.writePump(pumpCtx, conn)
	return c.readPump(conn)
}

func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame bridgeFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Warn("unparseable bridge frame", "error", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case raw := <-c.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Warn("bridge write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(frame bridgeFrame) {
	switch frame.Type {
	case "status":
		c.handleStatus(frame)
	case "incoming_message":
		c.handleIncoming(frame.Message)
	case "message_create":
		c.handleMessageCreate(frame.Message)
	case "message_sent":
		// Acknowledgement only; failures surface as error frames.
	case "qr_code":
		c.log.Info("bridge waiting for QR scan")
	case "error":
		c.log.Warn("bridge reported error", "error", frame.Error)
	default:
		c.log.Debug("ignoring bridge frame", "type", frame.Type)
	}
}

func (c *Client) handleStatus(frame bridgeFrame) {
	c.log.Info("whatsapp status", "status", frame.Status)
	c.mu.Lock()
	switch frame.Status {
	case "ready":
		c.ready = true
	case "disconnected", "auth_failure":
		c.ready = false
	}
	c.mu.Unlock()
}

// handleIncoming filters broadcasts and groups, then hands the message to
// the engine.
func (c *Client) handleIncoming(msg *bridgeMessage) {
	if msg == nil {
		return
	}
	from := strings.TrimSpace(msg.From)
	if from == "" || strings.Contains(from, "broadcast") {
		return
	}
	if msg.IsGroup || strings.Contains(from, "@g.us") {
		return
	}
	if msg.FromMe {
		return
	}

	c.listener.OnInbound(transport.Inbound{
		ThreadID:        from,
		Text:            msg.Body,
		TimestampUnixMs: normalizeTimestampMs(msg.Timestamp),
		ContactName:     strings.TrimSpace(msg.Contact.Name),
		HasMedia:        msg.HasMedia,
	})
}

// handleMessageCreate watches the account's own outgoing messages. The
// bridge filters out sends issued through its own API, so a fromMe message
// here means a human operator replied from the phone, which pauses the
// thread.
func (c *Client) handleMessageCreate(msg *bridgeMessage) {
	if msg == nil || !msg.FromMe {
		return
	}
	to := strings.TrimSpace(msg.To)
	if to == "" || strings.Contains(to, "broadcast") || strings.Contains(to, "@g.us") {
		return
	}
	c.listener.OnHumanReply(to)
}

// Ready reports whether the bridge has an authenticated WhatsApp session.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.ready
}

func (c *Client) SendText(ctx context.Context, threadID string, text string) error {
	threadID = strings.TrimSpace(threadID)
	text = strings.TrimSpace(text)
	if threadID == "" || text == "" {
		return errors.New("missing recipient or text")
	}
	return c.enqueue(ctx, outboundFrame{
		Type: "send_message",
		Data: outboundData{To: threadID, Text: text},
	})
}

func (c *Client) SendTyping(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("missing recipient")
	}
	return c.enqueue(ctx, outboundFrame{
		Type: "send_typing",
		Data: outboundData{To: threadID},
	})
}

func (c *Client) enqueue(ctx context.Context, frame outboundFrame) error {
	if !c.Ready() {
		return errors.New("bridge not ready")
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case c.sendCh <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("client closed")
	}
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.ready = false
	return nil
}

// The bridge reports whatsapp-web.js timestamps in seconds; older builds
// already send milliseconds.
func normalizeTimestampMs(ts int64) int64 {
	if ts <= 0 {
		return time.Now().UnixMilli()
	}
	if ts < 1_000_000_000_000 {
		return ts * 1000
	}
	return ts
}
