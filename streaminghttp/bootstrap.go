package streaminghttp

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcpgate/mcp-gate-go/internal/jsonrpc"
	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

// synthesizedRequestID marks the internal handshake so it never collides with
// a client-issued id.
const synthesizedRequestID = "_synthesized-initialize"

// newPendingSession builds a wired transport that is not yet registered. The
// registry insert happens inside the transport's handshake-completion
// callback, so a transport whose initialize never succeeds leaves no registry
// state behind.
func (h *StreamingHTTPHandler) newPendingSession(id string) *sessions.Session {
	if id == "" {
		id = uuid.NewString()
	}
	t := newSessionTransport(id, h.server, h.log)
	t.OnHandshake(func(ctx context.Context) error {
		return h.registry.Insert(t.Session())
	})
	t.OnClose(func() {
		// Ownership-checked: if another transport won a bootstrap race for
		// this id, its registry entry must survive our cleanup.
		h.registry.RemoveSession(t.Session())
	})
	return t.Session()
}

// adoptSession bootstraps a session for a client that skipped the handshake:
// it runs a synthesized initialize through the transport before the caller
// delivers the original payload. An empty id requests a fresh one; a
// non-empty id (an unmatched identifier supplied in lenient mode) is honored
// as the new session's identifier.
func (h *StreamingHTTPHandler) adoptSession(ctx context.Context, id string) (*sessions.Session, error) {
	sess := h.newPendingSession(id)
	t := sess.Transport()

	init, err := synthesizedInitialize()
	if err != nil {
		_ = t.Close(ctx)
		return nil, err
	}
	resp, err := t.Deliver(ctx, init)
	if err != nil {
		_ = t.Close(ctx)
		return nil, fmt.Errorf("synthesized handshake for session %s: %w", sess.ID(), err)
	}
	if resp != nil && resp.Error != nil {
		_ = t.Close(ctx)
		return nil, fmt.Errorf("synthesized handshake for session %s: %s", sess.ID(), resp.Error.Message)
	}

	// Complete the dance the way a compliant client would.
	initialized := &jsonrpc.AnyMessage{
		JSONRPCVersion: jsonrpc.Version,
		Method:         string(mcp.InitializedNotificationMethod),
	}
	if _, err := t.Deliver(ctx, initialized); err != nil {
		_ = t.Close(ctx)
		return nil, fmt.Errorf("synthesized initialized for session %s: %w", sess.ID(), err)
	}

	return sess, nil
}

// synthesizedInitialize builds the fixed internal handshake used for clients
// that send requests without initializing. It pins the protocol version and
// declares a generic capable client; it is never surfaced to the real client.
func synthesizedInitialize() (*jsonrpc.AnyMessage, error) {
	req, err := jsonrpc.NewRequest(
		jsonrpc.NewRequestID(synthesizedRequestID),
		string(mcp.InitializeMethod),
		mcp.InitializeRequest{
			ProtocolVersion: mcp.LatestProtocolVersion,
			Capabilities: mcp.ClientCapabilities{
				Roots:       &mcp.RootsCapability{ListChanged: true},
				Sampling:    &struct{}{},
				Elicitation: &struct{}{},
			},
			ClientInfo: mcp.ImplementationInfo{
				Name:    "mcp-gate-synthesized-client",
				Version: "1.0.0",
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("build synthesized initialize: %w", err)
	}
	return &jsonrpc.AnyMessage{
		JSONRPCVersion: req.JSONRPCVersion,
		Method:         req.Method,
		Params:         req.Params,
		ID:             req.ID,
	}, nil
}
