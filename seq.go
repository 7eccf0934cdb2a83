package modelsocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Seq represents an active conversation sequence.
// It is safe for concurrent use by multiple goroutines.
// However, only one Generate call can be active at a time.
type Seq struct {
	client       *Client
	id           string
	model        string
	toolsEnabled bool
	toolbox      *Toolbox

	mu       sync.Mutex
	state    SeqState
	closed   bool
	closeErr error
	done     chan struct{} // closed exactly once when the sequence closes

	// Pending commands by cid
	cmdMu    sync.Mutex
	commands map[string]chan *MSEvent

	// Active generation: stream slot, its cid, and the options of the
	// most recent gen. curGenOpts is echoed back in tool_return so an
	// interrupted generation resumes with identical settings.
	genStream  *GenStream
	genCID     string
	curGenOpts *SeqGenData
}

// newSeq creates a new sequence.
func newSeq(client *Client, id, model string, toolsEnabled bool, toolbox *Toolbox) *Seq {
	if toolbox == nil {
		toolbox = NewToolbox()
	}
	return &Seq{
		client:       client,
		id:           id,
		model:        model,
		toolsEnabled: toolsEnabled,
		toolbox:      toolbox,
		state:        StateReady,
		done:         make(chan struct{}),
		commands:     make(map[string]chan *MSEvent),
	}
}

// ID returns the sequence ID.
func (s *Seq) ID() string {
	return s.id
}

// Model returns the model the sequence was opened with.
func (s *Seq) Model() string {
	return s.model
}

// ToolsEnabled reports whether the sequence was opened with tool
// calling enabled.
func (s *Seq) ToolsEnabled() bool {
	return s.toolsEnabled
}

// Toolbox returns the sequence's tool table. Forked sequences share it
// with their parent.
func (s *Seq) Toolbox() *Toolbox {
	return s.toolbox
}

// State returns the current sequence state.
func (s *Seq) State() SeqState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error the sequence closed with, if any.
func (s *Seq) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Seq) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Append adds text to the sequence.
func (s *Seq) Append(ctx context.Context, text string, opts ...AppendOption) error {
	cfg := appendConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return s.sendAppend(ctx, SeqAppendData{
		Text:   &text,
		Role:   string(cfg.role),
		Echo:   cfg.echo,
		Hidden: cfg.hidden,
	})
}

// AppendTokens adds a token sequence instead of text.
func (s *Seq) AppendTokens(ctx context.Context, tokens []int, opts ...AppendOption) error {
	cfg := appendConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return s.sendAppend(ctx, SeqAppendData{
		Tokens: tokens,
		Role:   string(cfg.role),
		Echo:   cfg.echo,
		Hidden: cfg.hidden,
	})
}

func (s *Seq) sendAppend(ctx context.Context, data SeqAppendData) error {
	if s.isClosed() {
		return ErrSeqClosed
	}

	cid := s.client.newCID()
	ch := s.registerCommand(cid)
	defer s.unregisterCommand(cid)

	if err := s.client.send(ctx, NewAppendRequest(cid, s.id, data)); err != nil {
		return err
	}

	_, err := s.await(ctx, ch)
	return err
}

// Generate starts text generation and returns a stream without waiting
// for any server response. Chunks arrive on the stream until the
// terminating seq_gen_finish.
func (s *Seq) Generate(ctx context.Context, opts ...GenOption) (*GenStream, error) {
	cfg := genConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	data := cfg.toSeqGenData()

	cid := s.client.newCID()
	stream := newGenStream(s, cid)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSeqClosed
	}
	if s.genStream != nil {
		s.mu.Unlock()
		return nil, ErrGenActive
	}
	s.genStream = stream
	s.genCID = cid
	s.curGenOpts = &data
	s.state = StateGenerating
	s.mu.Unlock()

	if err := s.client.send(ctx, NewGenRequest(cid, s.id, data)); err != nil {
		s.mu.Lock()
		if s.genStream == stream {
			s.genStream = nil
			s.genCID = ""
			s.curGenOpts = nil
		}
		s.mu.Unlock()
		return nil, err
	}

	return stream, nil
}

// Fork creates a new sequence with the same conversation history. The
// child inherits the parent's model and tools flag and shares the
// parent's toolbox: a tool installed on either after the fork is
// visible to both.
func (s *Seq) Fork(ctx context.Context) (*Seq, error) {
	if s.isClosed() {
		return nil, ErrSeqClosed
	}

	cid := s.client.newCID()
	ch := s.registerCommand(cid)
	defer s.unregisterCommand(cid)

	if err := s.client.send(ctx, NewForkRequest(cid, s.id)); err != nil {
		return nil, err
	}

	event, err := s.await(ctx, ch)
	if err != nil {
		return nil, err
	}
	if !event.IsSeqForkFinish() {
		return nil, ErrUnexpectedEvent
	}
	if event.ChildSeqID == "" {
		return nil, ErrNoChildSeq
	}

	child := newSeq(s.client, event.ChildSeqID, s.model, s.toolsEnabled, s.toolbox)
	s.client.registerSeq(child)
	return child, nil
}

// WithFork forks, runs fn on the child, and closes the child afterward
// whether fn succeeded or not. The close is not awaited; a close error
// is logged.
func (s *Seq) WithFork(ctx context.Context, fn func(context.Context, *Seq) error) error {
	child, err := s.Fork(ctx)
	if err != nil {
		return err
	}

	fnErr := fn(ctx, child)

	closeCtx := context.WithoutCancel(ctx)
	go func() {
		if err := child.Close(closeCtx); err != nil && !errors.Is(err, ErrSeqClosed) {
			s.client.logger().Error("fork close failed",
				slog.String("seq_id", child.id),
				slog.Any("error", err),
			)
		}
	}()

	return fnErr
}

// Close closes the sequence. It completes when the matching seq_closed
// event arrives.
func (s *Seq) Close(ctx context.Context) error {
	if s.isClosed() {
		return nil
	}

	cid := s.client.newCID()
	ch := s.registerCommand(cid)
	defer s.unregisterCommand(cid)

	if err := s.client.send(ctx, NewCloseRequest(cid, s.id)); err != nil {
		return err
	}

	_, err := s.await(ctx, ch)
	if errors.Is(err, ErrSeqClosed) {
		// The close fan-out beat our own completion event.
		return nil
	}
	return err
}

// Install validates a tool, announces it to the model via a hidden
// system append, and registers it on the sequence's toolbox so the
// model can invoke it. Requires the sequence to have tools enabled.
func (s *Seq) Install(ctx context.Context, tool Tool) error {
	if !s.toolsEnabled {
		return ErrToolsDisabled
	}
	if err := validateTool(tool); err != nil {
		return err
	}
	def := tool.Definition()
	if s.toolbox.Has(def.Name) {
		return fmt.Errorf("%w: %s", ErrToolExists, def.Name)
	}

	text, err := installText(def)
	if err != nil {
		return &SendError{Op: "install", Err: err}
	}
	if err := s.sendAppend(ctx, SeqAppendData{
		Text:   &text,
		Role:   string(RoleSystem),
		Hidden: true,
	}); err != nil {
		return err
	}

	return s.toolbox.Add(tool)
}

// handleEvent processes an incoming event for this sequence.
func (s *Seq) handleEvent(event *MSEvent) {
	switch event.Event {
	case EventSeqText:
		s.handleText(event)

	case EventSeqGenFinish:
		s.handleGenFinished(event)

	case EventSeqAppendFinish, EventSeqForkFinish:
		if !s.resolveCommand(event) {
			s.client.logger().Debug("completion event with no pending command",
				slog.String("event", event.Event),
				slog.String("seq_id", s.id),
				slog.String("cid", event.CID),
			)
		}

	case EventSeqToolCall:
		s.handleToolCall(event)

	case EventSeqState:
		s.mu.Lock()
		s.state = event.State
		s.mu.Unlock()

	case EventSeqClosed:
		s.resolveCommand(event)
		s.handleClose(event)

	case EventError:
		if !s.resolveCommand(event) {
			s.client.logger().Error("server error for sequence",
				slog.String("seq_id", s.id),
				slog.String("cid", event.CID),
				slog.String("message", event.Message),
			)
		}
	}
}

// handleText routes a chunk into the generation slot. Text events that
// do not belong to the active generation (append echoes, stale chunks)
// are dropped silently.
func (s *Seq) handleText(event *MSEvent) {
	s.mu.Lock()
	stream := s.genStream
	match := stream != nil && s.genCID == event.CID
	s.mu.Unlock()

	if match {
		stream.handleText(event)
	}
}

// handleGenFinished tears down the generation slot and closes the
// stream. A finish with no matching slot is logged but not fatal.
func (s *Seq) handleGenFinished(event *MSEvent) {
	s.mu.Lock()
	stream := s.genStream
	if stream != nil && s.genCID == event.CID {
		s.genStream = nil
		s.genCID = ""
		s.curGenOpts = nil
		s.state = StateReady
		s.mu.Unlock()
		stream.handleFinish(event)
		return
	}
	s.mu.Unlock()

	s.client.logger().Debug("seq_gen_finish with no active generation",
		slog.String("seq_id", s.id),
		slog.String("cid", event.CID),
	)
}

// handleToolCall services a seq_tool_call event: the installed tools
// run off the dispatch goroutine and the results go back on the same
// cid so the pending generation and its stream slot stay bound to the
// resumed generation.
func (s *Seq) handleToolCall(event *MSEvent) {
	s.mu.Lock()
	genOpts := SeqGenData{}
	if s.curGenOpts != nil {
		genOpts = *s.curGenOpts
	}
	s.state = StateToolCall
	s.mu.Unlock()

	go s.serviceToolCalls(event, genOpts)
}

// serviceToolCalls invokes each requested tool in order. Failed or
// unknown tools are logged and omitted from the results; the
// generation resumes with whatever succeeded.
func (s *Seq) serviceToolCalls(event *MSEvent, genOpts SeqGenData) {
	ctx := s.client.ctx
	logger := s.client.logger()

	results := make([]ToolResult, 0, len(event.ToolCalls))
	for _, call := range event.ToolCalls {
		result, err := s.toolbox.Call(ctx, call.Name, call.Args)
		if err != nil {
			logger.Error("tool call failed",
				slog.String("seq_id", s.id),
				slog.String("tool", call.Name),
				slog.Any("error", err),
			)
			continue
		}
		results = append(results, ToolResult{Name: call.Name, Result: result})
	}

	req := NewToolReturnRequest(event.CID, s.id, results, genOpts)
	if err := s.client.send(ctx, req); err != nil {
		logger.Error("tool return failed",
			slog.String("seq_id", s.id),
			slog.String("cid", event.CID),
			slog.Any("error", err),
		)
	}
}

// handleClose handles sequence closure. Idempotent. Every pending
// command is rejected with ErrSeqClosed and the active generation
// stream, if any, is closed.
func (s *Seq) handleClose(event *MSEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	if event != nil && event.ErrorMsg != "" {
		s.closeErr = &SeqError{SeqID: s.id, Message: event.ErrorMsg}
	}
	stream := s.genStream
	s.genStream = nil
	s.genCID = ""
	s.curGenOpts = nil
	s.mu.Unlock()

	// Fans ErrSeqClosed out to every command still awaiting.
	close(s.done)

	if stream != nil {
		stream.handleClose()
	}

	s.client.removeSeq(s.id)
}

// registerCommand records a pending command waiter for a cid.
func (s *Seq) registerCommand(cid string) chan *MSEvent {
	ch := make(chan *MSEvent, 1)
	s.cmdMu.Lock()
	s.commands[cid] = ch
	s.cmdMu.Unlock()
	return ch
}

// unregisterCommand removes a pending command waiter.
func (s *Seq) unregisterCommand(cid string) {
	s.cmdMu.Lock()
	delete(s.commands, cid)
	s.cmdMu.Unlock()
}

// resolveCommand delivers a terminal event to the waiter registered
// under its cid. Returns false when no waiter is pending.
func (s *Seq) resolveCommand(event *MSEvent) bool {
	if event.CID == "" {
		return false
	}
	s.cmdMu.Lock()
	ch, ok := s.commands[event.CID]
	s.cmdMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- event:
	default:
	}
	return true
}

// await blocks until the command's terminal event arrives, the context
// ends, or the sequence closes.
func (s *Seq) await(ctx context.Context, ch chan *MSEvent) (*MSEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case event := <-ch:
		return s.checkEvent(event)
	case <-s.done:
		// The terminal event may have been delivered just before close.
		select {
		case event := <-ch:
			return s.checkEvent(event)
		default:
		}
		return nil, ErrSeqClosed
	}
}

func (s *Seq) checkEvent(event *MSEvent) (*MSEvent, error) {
	if event.IsError() {
		return nil, &ProtocolError{
			Message: event.Message,
			SeqID:   event.SeqID,
			CID:     event.CID,
		}
	}
	return event, nil
}
