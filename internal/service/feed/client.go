// Package feed reads live roulette outcomes from a table WebSocket.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	drepo "SpinCast/internal/domain/repository"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client implements an OutcomeStream backed by a WebSocket feed.
type Client struct {
	url            string
	table          string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a WebSocket OutcomeStream. An empty table subscribes to
// whatever the feed sends by default.
func New(url, table string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) *Client {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		url:            url,
		table:          table,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect dials the feed and subscribes to the table.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	if c.table != "" {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "table": c.table}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("feed subscribe %s: %w", c.table, err)
		}
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("feed connected", logger.String("url", c.url), logger.String("table", c.table))
	return nil
}

type frame struct {
	Type      string `json:"type"`
	Table     string `json:"table"`
	Number    any    `json:"number"`
	Timestamp string `json:"timestamp"`
}

// Read streams outcomes until the connection fails or ctx ends. Frames
// without a number are skipped.
func (c *Client) Read(ctx context.Context) (<-chan drepo.RawOutcome, <-chan error) {
	out := make(chan drepo.RawOutcome, 64)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- errors.New("feed not connected")
		close(out)
		close(errs)
		return out, errs
	}

	readCtx, stopPing := context.WithCancel(ctx)
	go c.ping(readCtx, conn)

	go func() {
		defer stopPing()
		defer close(out)
		defer close(errs)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.setConnected(false)
					errs <- fmt.Errorf("feed read: %w", err)
				}
				return
			}
			var f frame
			if err := json.Unmarshal(b, &f); err != nil || f.Number == nil {
				continue
			}
			if f.Type != "" && f.Type != "outcome" {
				continue
			}
			source := "feed"
			if f.Table != "" {
				source = "feed:" + f.Table
			}
			at := util.ParseTimeDefault(f.Timestamp, time.Now().UTC())
			select {
			case out <- drepo.RawOutcome{Source: source, Value: f.Number, At: at}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}

func (c *Client) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
		}
	}
}

// Reconnect closes the connection, waits and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Connect(ctx)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

var _ drepo.OutcomeStream = (*Client)(nil)
