// Package wsclient is the viewer side of the sync protocol transport.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/MayoPickle/tofu-chillsync/internal/config"
	"github.com/MayoPickle/tofu-chillsync/pkg/log"
)

var (
	ErrClosed         = errors.New("websocket client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Handler receives every text frame read from the server.
type Handler interface {
	HandleMessage(data []byte) error
}

type Client struct {
	conn   *websocket.Conn
	cfg    config.WebSocketConfig
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 54 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return cfg
}

// Dial connects to the server's WebSocket endpoint.
func Dial(ctx context.Context, url string, header http.Header, cfg config.WebSocketConfig) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	cfg = withDefaults(cfg)
	return &Client{
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: log.L().With().Str("remote", url).Logger(),
	}, nil
}

// Send queues v as a JSON text frame. It never blocks.
func (c *Client) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the pumps and closes the connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Run pumps frames until ctx is done or the connection fails. A close the
// caller asked for returns nil.
func (c *Client) Run(ctx context.Context, h Handler) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.readPump(h) })
	g.Go(func() error {
		// closing the connection unblocks readPump
		defer c.Close()
		return c.writePump(gctx)
	})

	err := g.Wait()
	if ctx.Err() != nil || isClosing(err) {
		return nil
	}
	return err
}

func isClosing(err error) bool {
	if err == nil || errors.Is(err, ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}

func (c *Client) readPump(h Handler) error {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return ErrClosed
			default:
			}
			return fmt.Errorf("read: %w", err)
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		if err := h.HandleMessage(data); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to handle server message")
		}
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.flush()
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case <-c.done:
			return ErrClosed
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// flush writes frames queued before shutdown.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
