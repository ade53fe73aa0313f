package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcpgate/mcp-gate-go/internal/jsonrpc"
)

var (
	// ErrSessionExists indicates an insert under an identifier that is
	// already registered. Given the bootstrap's id generation policy this is
	// an invariant violation, not an expected runtime condition.
	ErrSessionExists = errors.New("session already registered")
	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// State is the lifecycle state of a session.
type State string

const (
	// StatePending covers the window between transport construction and
	// handshake completion. Pending sessions are not in the registry.
	StatePending State = "pending"
	// StateActive means the handshake completed and the session is routable.
	StateActive State = "active"
	// StateClosed means the transport shut down. Terminal.
	StateClosed State = "closed"
)

// MessageWriterFunc delivers one framed server-to-client message. The
// eventID is a resumption cursor for the SSE stream and may be empty.
type MessageWriterFunc func(ctx context.Context, eventID string, msg []byte) error

// Transport is the per-session collaborator that frames protocol messages
// over HTTP. One transport serves exactly one session. Implementations MUST
// be safe for concurrent use.
type Transport interface {
	// SessionID returns the identifier the transport is bound to.
	SessionID() string

	// Deliver processes one client-to-server envelope. It returns the
	// response for requests and nil for notifications and client responses.
	Deliver(ctx context.Context, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error)

	// Stream writes queued server-to-client messages through write until the
	// context ends or the transport closes.
	Stream(ctx context.Context, write MessageWriterFunc) error

	// Close shuts the transport down. The transport emits its close event
	// exactly once regardless of how many times Close is called.
	Close(ctx context.Context) error
}

// Session binds an identifier to its transport and tracks lifecycle state.
type Session struct {
	id        string
	transport Transport

	mu    sync.Mutex
	state State
}

// NewSession creates a Pending session for the given transport. The id is
// immutable from this point on.
func NewSession(id string, t Transport) *Session {
	return &Session{id: id, transport: t, state: StatePending}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Transport returns the transport owned by this session.
func (s *Session) Transport() Transport { return s.transport }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// activate performs the single legal Pending→Active transition. It is called
// by the registry under its lock so insert-if-absent and activation are one
// atomic step.
func (s *Session) activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return fmt.Errorf("activate session %s in state %s: %w", s.id, s.state, ErrSessionClosed)
	}
	s.state = StateActive
	return nil
}

// markClosed performs the Active→Closed transition. Idempotent: closing a
// closed session is a no-op so a transport's close event may fire after an
// explicit DELETE already removed the entry.
func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}
