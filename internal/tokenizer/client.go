package tokenizer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"leon/internal/domain"
)

const (
	dialRetryInterval = 500 * time.Millisecond
	dialTimeout       = 15 * time.Second
	requestTimeout    = 10 * time.Second
)

type request struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Utterance string `json:"utterance,omitempty"`
}

type response struct {
	ID       string          `json:"id"`
	Error    string          `json:"error,omitempty"`
	Entities []domain.Entity `json:"entities,omitempty"`
}

// Client talks to the tokenization service over a line-delimited JSON
// socket. Requests and responses are correlated by id through a pending
// channel map.
type Client struct {
	addr   string
	logger *slog.Logger

	mu          sync.Mutex
	conn        net.Conn
	onConnected func()

	pendingMu sync.Mutex
	pending   map[string]chan response
}

func NewClient(addr string, logger *slog.Logger) *Client {
	return &Client{
		addr:    addr,
		logger:  logger,
		pending: make(map[string]chan response),
	}
}

// OnConnected replaces the connected listener. The listener fires exactly
// once per successful Connect.
func (c *Client) OnConnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

// Connect dials the service, retrying while it boots, then starts the read
// loop and fires the connected listener.
func (c *Client) Connect(ctx context.Context) error {
	deadline := time.Now().Add(dialTimeout)
	var conn net.Conn
	var err error
	for {
		conn, err = net.DialTimeout("tcp", c.addr, dialRetryInterval)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("dial tokenizer at %s: %w", c.addr, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	listener := c.onConnected
	c.mu.Unlock()

	go c.readLoop(conn)
	c.logger.Info("tokenizer client connected", "addr", c.addr)

	if listener != nil {
		listener()
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			c.logger.Warn("invalid tokenizer frame", "error", err)
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pendingMu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("tokenizer connection closed", "error", err)
	}
}

// GetSpacyEntities requests auxiliary entities for an utterance.
func (c *Client) GetSpacyEntities(ctx context.Context, utterance string) ([]domain.Entity, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("tokenizer client is not connected")
	}

	req := request{ID: uuid.NewString(), Method: "get_spacy_entities", Utterance: utterance}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if _, err := conn.Write(append(body, '\n')); err != nil {
		return nil, fmt.Errorf("write tokenizer request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("tokenizer: %s", resp.Error)
		}
		return resp.Entities, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("tokenizer request timeout")
	}
}
