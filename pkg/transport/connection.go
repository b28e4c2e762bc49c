// Package transport owns one WebSocket connection: a read pump feeding the
// message handler, a write pump draining a bounded queue, and a keepalive.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
	// ErrPeerUnresponsive closes a connection whose peer stopped answering pings.
	ErrPeerUnresponsive = errors.New("peer missed keepalive")
)

const defaultSendBuffer = 256

// MessageHandler runs on the connection's read goroutine, so the messages of
// one connection are handled strictly in order.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

// ConnectionConfig mirrors config.TransportConfig field for field.
type ConnectionConfig struct {
	// ReadTimeout closes a connection idle for that long. It is ignored when
	// PingInterval is set, since pings then prove liveness.
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	PingInterval    time.Duration
	MaxMessageBytes int64
}

type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        *sync.WaitGroup
	closeOnce sync.Once

	logger *slog.Logger
}

var _ state.Sink = (*Connection)(nil)

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parentCtx)
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaultSendBuffer
	}
	if wg != nil {
		// released by Close, which always runs exactly once
		wg.Add(1)
	}
	if conn != nil && config.MaxMessageBytes > 0 {
		conn.SetReadLimit(config.MaxMessageBytes)
	}

	return &Connection{
		id:        id,
		conn:      conn,
		config:    config,
		send:      make(chan []byte, config.SendBuffer),
		onMessage: onMessage,
		onClose:   onClose,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		wg:        wg,
		logger:    logger.With(slog.String("connID", id.String())),
	}
}

// Run starts the pumps. Handlers must be set before calling it.
func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()
	if c.config.PingInterval > 0 {
		go c.keepAlive()
	}
	c.logger.Debug("Connection pumps started")
}

func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		msg, err := c.next()
		if err != nil {
			readErr = err
			return
		}
		if msg != nil && c.onMessage != nil {
			c.onMessage(c.ctx, c.id, msg)
		}
	}
}

// next reads one data frame. It returns nil, nil for frames that carry no event.
func (c *Connection) next() ([]byte, error) {
	readCtx, cancel := c.readContext()
	defer cancel()

	typ, r, err := c.conn.Reader(readCtx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText && typ != websocket.MessageBinary {
		return nil, nil
	}
	msg, err := io.ReadAll(r)
	if err != nil {
		c.logger.Warn("Failed to read frame", slog.Any("error", err))
		return nil, err
	}
	return msg, nil
}

func (c *Connection) readContext() (context.Context, context.CancelFunc) {
	if c.config.ReadTimeout <= 0 || c.config.PingInterval > 0 {
		return context.WithCancel(c.ctx)
	}
	return context.WithTimeout(c.ctx, c.config.ReadTimeout)
}

func (c *Connection) writeContext() (context.Context, context.CancelFunc) {
	if c.config.WriteTimeout <= 0 {
		return context.WithCancel(c.ctx)
	}
	return context.WithTimeout(c.ctx, c.config.WriteTimeout)
}

func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case msg := <-c.send:
			writeCtx, cancel := c.writeContext()
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// keepAlive pings the peer every PingInterval. A missing pong within the
// interval closes the connection, which takes the user offline.
func (c *Connection) keepAlive() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.PingInterval)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.Close(fmt.Errorf("%w: %w", ErrPeerUnresponsive, err))
				}
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues msg for the client. It is safe for concurrent use and never
// blocks: a client whose queue is full is disconnected as a slow consumer.
func (c *Connection) Send(msg []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	default:
		c.logger.Warn("Send buffer full, closing slow consumer")
		go c.Close(ErrSlowConsumer)
		return ErrSlowConsumer
	}
}

// Close tears the connection down once; later calls are no-ops. The close
// handler runs before Done is closed.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Info("Connection closing", slog.Any("reason", err), slog.String("status", websocket.CloseStatus(err).String()))

		c.cancel()
		switch {
		case c.conn == nil:
		case errors.Is(err, ErrPeerUnresponsive):
			// no point waiting on a close handshake the peer will not answer
			_ = c.conn.CloseNow()
		default:
			c.conn.Close(closeStatus(err))
		}
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		if c.wg != nil {
			c.wg.Done()
		}
		close(c.done)
	})
}

// closeStatus picks the close frame sent to the peer for a local close reason.
func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return websocket.StatusNormalClosure, ""
	case errors.Is(err, ErrSlowConsumer):
		return websocket.StatusPolicyViolation, err.Error()
	case websocket.CloseStatus(err) != -1:
		// the peer closed first
		return websocket.StatusNormalClosure, ""
	default:
		return websocket.StatusGoingAway, ""
	}
}

// Done is closed once the connection is fully torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
