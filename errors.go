package modelsocket

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrClosed is injected into every waiter still outstanding on the
	// connection when the client tears the websocket down.
	ErrClosed = errors.New("modelsocket: websocket closed by client")

	// ErrSeqClosed is injected into every pending command on a sequence
	// when that sequence closes, for any reason.
	ErrSeqClosed = errors.New("modelsocket: seq closed")

	// ErrGenActive is returned by Generate while a previous generation
	// on the same sequence has not finished.
	ErrGenActive = errors.New("modelsocket: generation already in progress")

	// ErrToolsDisabled is returned by Install on a sequence that was not
	// opened with tools enabled.
	ErrToolsDisabled = errors.New("modelsocket: tools not enabled on sequence")

	// ErrInvalidTool is returned when a tool fails validation, before
	// any network I/O.
	ErrInvalidTool = errors.New("modelsocket: invalid tool")

	// ErrToolExists is returned by Install when a tool of the same name
	// is already installed on the sequence.
	ErrToolExists = errors.New("modelsocket: tool already installed")

	ErrToolNotFound    = errors.New("modelsocket: tool not found")
	ErrNoChildSeq      = errors.New("modelsocket: child seq id missing")
	ErrUnexpectedEvent = errors.New("modelsocket: unexpected event")
)

// ConnectionError represents a transport-level error: the handshake
// failed or the channel errored.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("modelsocket: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("modelsocket: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SendError represents an error during request sending.
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("modelsocket: send %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// FrameError represents a malformed inbound frame: non-JSON text, a
// non-text payload, or a frame missing a required field. The read loop
// logs these and keeps the connection up.
type FrameError struct {
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("modelsocket: bad frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("modelsocket: bad frame: %s", e.Reason)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// StateError reports an event that referenced a sequence the connection
// does not know about. It indicates a client or server bug; dispatch
// surfaces it to the read loop, which logs it and carries on.
type StateError struct {
	Event string
	SeqID string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("modelsocket: event %s references unknown seq %s", e.Event, e.SeqID)
}

// ProtocolError represents an error event received from the server.
type ProtocolError struct {
	Code    string
	Message string
	SeqID   string
	CID     string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("modelsocket: protocol error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("modelsocket: protocol error: %s", e.Message)
}

// SeqError represents a sequence-level error carried on seq_closed.
type SeqError struct {
	SeqID   string
	Message string
}

func (e *SeqError) Error() string {
	return fmt.Sprintf("modelsocket: sequence %s: %s", e.SeqID, e.Message)
}
