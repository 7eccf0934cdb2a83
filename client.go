package modelsocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Client is the main client for connecting to a ModelSocket server. It
// owns the transport, the table of live sequences, and the registry of
// sequence-open waiters, and demultiplexes every inbound event to one
// of them. It is safe for concurrent use by multiple goroutines.
type Client struct {
	transport Transport
	cfg       clientConfig
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.RWMutex
	seqs     map[string]*Seq          // live sequences by seq_id
	opens    map[string]chan *MSEvent // opening waiters by cid
	closed   bool
	closeErr error
}

// Connect establishes a connection to a ModelSocket server. When apiKey
// is empty, the MODELSOCKET_API_KEY environment variable is consulted.
func Connect(ctx context.Context, url string, apiKey string, opts ...ClientOption) (*Client, error) {
	transport, err := Dial(ctx, url, apiKey, nil)
	if err != nil {
		return nil, err
	}

	return NewWithTransport(ctx, transport, opts...), nil
}

// NewWithTransport creates a Client with a custom transport.
// This is useful for testing or custom transport implementations.
func NewWithTransport(ctx context.Context, transport Transport, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(ctx)

	cfg := clientConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = loggerFromEnv()
	}

	c := &Client{
		transport: transport,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		seqs:      make(map[string]*Seq),
		opens:     make(map[string]chan *MSEvent),
	}

	go c.readLoop()

	return c
}

// Open creates a new sequence with the specified model.
func (c *Client) Open(ctx context.Context, model string, opts ...OpenOption) (*Seq, error) {
	cfg := openConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	toolsEnabled := cfg.tools || cfg.toolbox != nil

	cid := c.newCID()

	ch := make(chan *MSEvent, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.opens[cid] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.opens, cid)
		c.mu.Unlock()
	}()

	data := SeqOpenData{
		Model:        model,
		ToolsEnabled: toolsEnabled,
		SkipPrelude:  cfg.skipPrelude,
		ToolPrompt:   cfg.toolPrompt,
	}
	if data.ToolPrompt == "" && cfg.toolbox != nil {
		data.ToolPrompt = cfg.toolbox.ToolInstructions()
	}

	if err := c.send(ctx, NewSeqOpenRequest(cid, data)); err != nil {
		return nil, &SendError{Op: "seq_open", Err: err}
	}

	// Wait for the server-chosen seq_id
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	case event := <-ch:
		if event.IsError() {
			return nil, &ProtocolError{
				Message: event.Message,
				SeqID:   event.SeqID,
				CID:     event.CID,
			}
		}
		if !event.IsSeqOpened() {
			return nil, ErrUnexpectedEvent
		}

		seq := newSeq(c, event.SeqID, model, toolsEnabled, cfg.toolbox)
		c.registerSeq(seq)
		return seq, nil
	}
}

// Close closes the transport and tears down every live sequence:
// outstanding opening waiters reject with ErrClosed and each
// sequence's pending commands reject with ErrSeqClosed.
func (c *Client) Close(ctx context.Context) error {
	if !c.teardown(nil) {
		return nil
	}
	return c.transport.Close()
}

// teardown marks the client closed, cancels the opening waiters, and
// fans closure out to every live sequence. Returns false when the
// client was already closed.
func (c *Client) teardown(err error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.closeErr = err
	seqs := make([]*Seq, 0, len(c.seqs))
	for _, seq := range c.seqs {
		seqs = append(seqs, seq)
	}
	c.seqs = make(map[string]*Seq)
	c.mu.Unlock()

	// Rejects every outstanding Open with ErrClosed.
	c.cancel()

	for _, seq := range seqs {
		seq.handleClose(nil)
	}
	return true
}

// readLoop reads events from the transport and routes them. Malformed
// frames are logged and dropped; a transport error ends the connection.
func (c *Client) readLoop() {
	for {
		event, err := c.transport.Receive(c.ctx)
		if err != nil {
			var frameErr *FrameError
			if errors.As(err, &frameErr) {
				c.logger().Error("dropping malformed frame", slog.Any("error", err))
				continue
			}
			if c.teardown(err) {
				_ = c.transport.Close()
			}
			return
		}

		// Observability hook
		if c.cfg.onReceive != nil {
			c.cfg.onReceive(event)
		}

		c.logger().Debug("received event",
			slog.String("event", event.Event),
			slog.String("seq_id", event.SeqID),
			slog.String("cid", event.CID),
		)

		if err := c.routeEvent(event); err != nil {
			c.logger().Error("dispatch failed", slog.Any("error", err))
		}
	}
}

// routeEvent routes an event to the opening-waiter table or to the
// owning sequence. Unknown event kinds are logged and dropped; an
// event that should carry a seq_id and does not, or that references a
// sequence the client does not know, comes back as an error.
func (c *Client) routeEvent(event *MSEvent) error {
	switch {
	case event.IsSeqOpened():
		if !c.resolveOpen(event) {
			c.logger().Debug("seq_opened with no waiter", slog.String("cid", event.CID))
		}
		return nil

	case event.IsError():
		if event.CID != "" && c.resolveOpen(event) {
			return nil
		}
		if event.SeqID != "" {
			if seq, ok := c.lookupSeq(event.SeqID); ok {
				seq.handleEvent(event)
				return nil
			}
		}
		c.logger().Error("server error",
			slog.String("cid", event.CID),
			slog.String("seq_id", event.SeqID),
			slog.String("message", event.Message),
		)
		return nil

	case !event.needsSeq():
		c.logger().Debug("dropping unknown event", slog.String("event", event.Event))
		return nil
	}

	if event.SeqID == "" {
		return &FrameError{Reason: "missing seq_id on " + event.Event}
	}

	seq, ok := c.lookupSeq(event.SeqID)
	if !ok {
		return &StateError{Event: event.Event, SeqID: event.SeqID}
	}

	seq.handleEvent(event)
	return nil
}

// resolveOpen delivers an event to the opening waiter registered under
// its cid. Returns false when no waiter is pending.
func (c *Client) resolveOpen(event *MSEvent) bool {
	c.mu.RLock()
	ch, ok := c.opens[event.CID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- event:
	default:
	}
	return true
}

func (c *Client) lookupSeq(seqID string) (*Seq, bool) {
	c.mu.RLock()
	seq, ok := c.seqs[seqID]
	c.mu.RUnlock()
	return seq, ok
}

// send sends a request through the transport.
func (c *Client) send(ctx context.Context, req *MSRequest) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	// Observability hook
	if c.cfg.onSend != nil {
		c.cfg.onSend(req)
	}

	c.logger().Debug("sending request",
		slog.String("request", req.Request),
		slog.String("cid", req.CID),
		slog.String("seq_id", req.SeqID),
	)

	return c.transport.Send(ctx, req)
}

// registerSeq inserts a sequence into the live-sequences table. Used
// both by Open and when a fork manufactures a child sequence. A
// sequence registered on a closed client is closed immediately.
func (c *Client) registerSeq(seq *Seq) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		seq.handleClose(nil)
		return
	}
	c.seqs[seq.id] = seq
	c.mu.Unlock()
}

// removeSeq removes a sequence from the client.
func (c *Client) removeSeq(seqID string) {
	c.mu.Lock()
	delete(c.seqs, seqID)
	c.mu.Unlock()
}

// newCID allocates a correlation id, unique within the connection.
func (c *Client) newCID() string {
	return uuid.NewString()
}

func (c *Client) logger() *slog.Logger {
	return c.cfg.logger
}
