// Package transport maintains the long-lived duplex channel between a
// sync client and the synchronization service, including the reconnect
// policy.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/coreadhq/coread-backend/internal/protocol"
)

var ErrConnection = errors.New("sync service unreachable")
var ErrSyncUnavailable = errors.New("reconnect attempts exhausted")
var ErrClosed = errors.New("transport closed")

const (
	dialTimeout    = 10 * time.Second
	welcomeTimeout = 10 * time.Second
	writeTimeout   = 3 * time.Second
	outboxSize     = 64
	inboundSize    = 64
)

// Options configures dialing and reconnects.
type Options struct {
	// BaseURL of the sync service, e.g. "http://host:8080".
	BaseURL     string
	SessionID   string
	UserID      string
	DisplayName string

	// MaxAttempts bounds a single DialWithRetry call. Zero means the
	// default of 5.
	MaxAttempts int
	// MaxBackoff caps the delay between attempts. Zero means 30s.
	MaxBackoff time.Duration

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Conn is one established session channel. Inbound frames are delivered
// on a single channel in arrival order; outbound frames are written by a
// single pump, preserving per-sender FIFO end to end.
type Conn struct {
	ws      *websocket.Conn
	welcome protocol.Message
	inbound chan protocol.Message
	outbox  chan protocol.Message
	logger  *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	readDone  chan struct{}
	closeOnce sync.Once
}

func wsURL(o Options) string {
	base := strings.TrimSuffix(o.BaseURL, "/")
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return fmt.Sprintf("%s/ws?session=%s&user=%s&name=%s",
		base,
		url.QueryEscape(o.SessionID),
		url.QueryEscape(o.UserID),
		url.QueryEscape(o.DisplayName))
}

// Connect performs a single dial and waits for the service's welcome
// frame before returning.
func Connect(ctx context.Context, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	ws, _, err := websocket.Dial(dialCtx, wsURL(opts), nil)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	readCtx, readCancel := context.WithTimeout(ctx, welcomeTimeout)
	_, data, err := ws.Read(readCtx)
	readCancel()
	if err != nil {
		ws.Close(websocket.StatusProtocolError, "no welcome")
		return nil, fmt.Errorf("%w: no welcome frame: %v", ErrConnection, err)
	}

	var welcome protocol.Message
	if err := json.Unmarshal(data, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		ws.Close(websocket.StatusProtocolError, "bad welcome")
		return nil, fmt.Errorf("%w: unexpected first frame", ErrConnection)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:       ws,
		welcome:  welcome,
		inbound:  make(chan protocol.Message, inboundSize),
		outbox:   make(chan protocol.Message, outboxSize),
		logger:   opts.Logger,
		ctx:      connCtx,
		cancel:   connCancel,
		readDone: make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Welcome returns the initial state frame received during Connect.
func (c *Conn) Welcome() protocol.Message { return c.welcome }

// Inbound returns the delivery channel. It is closed when the connection
// fails or is closed; no frames are delivered after that.
func (c *Conn) Inbound() <-chan protocol.Message { return c.inbound }

// Send enqueues an outbound frame without blocking on the network.
func (c *Conn) Send(msg protocol.Message) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	case c.outbox <- msg:
		return nil
	}
}

func (c *Conn) readPump() {
	defer close(c.readDone)
	defer close(c.inbound)
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("read pump ended", zap.Error(err))
			}
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		select {
		case c.inbound <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbox:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, msg.Encode())
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Debug("write pump ended", zap.Error(err))
				}
				return
			}
		}
	}
}

// Close is an idempotent teardown: it flushes a best-effort leave frame,
// stops both pumps and waits until no further inbound delivery can
// happen.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.ws.Write(ctx, websocket.MessageText, protocol.Message{Type: protocol.TypeLeave}.Encode())
		cancel()

		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
		<-c.readDone
	})
	return nil
}
