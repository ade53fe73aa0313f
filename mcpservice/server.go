package mcpservice

import (
	"context"

	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

// ServerOption configures a concrete ServerCapabilities implementation.
type ServerOption func(*server)

type server struct {
	info            mcp.ImplementationInfo
	protocolVersion string
	instructions    *string

	tools     ToolsCapability
	resources ResourcesCapability
}

// NewServer builds a ServerCapabilities from functional options. The zero
// configuration is a server with no capabilities, which is still a valid
// handshake peer.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the implementation info returned during initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.info = info }
}

// WithPreferredProtocolVersion pins the protocol version the server prefers.
func WithPreferredProtocolVersion(version string) ServerOption {
	return func(s *server) { s.protocolVersion = version }
}

// WithInstructions sets human-readable instructions surfaced to the client.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.instructions = &instr }
}

// WithToolsCapability wires a tools surface shared by all sessions.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) { s.tools = cap }
}

// WithResourcesCapability wires a resources surface shared by all sessions.
func WithResourcesCapability(cap ResourcesCapability) ServerOption {
	return func(s *server) { s.resources = cap }
}

func (s *server) GetServerInfo(ctx context.Context, session *sessions.Session) (mcp.ImplementationInfo, error) {
	return s.info, nil
}

func (s *server) GetPreferredProtocolVersion(ctx context.Context) (string, bool, error) {
	if s.protocolVersion == "" {
		return "", false, nil
	}
	return s.protocolVersion, true, nil
}

func (s *server) GetInstructions(ctx context.Context, session *sessions.Session) (string, bool, error) {
	if s.instructions == nil {
		return "", false, nil
	}
	return *s.instructions, true, nil
}

func (s *server) GetToolsCapability(ctx context.Context, session *sessions.Session) (ToolsCapability, bool, error) {
	if s.tools == nil {
		return nil, false, nil
	}
	return s.tools, true, nil
}

func (s *server) GetResourcesCapability(ctx context.Context, session *sessions.Session) (ResourcesCapability, bool, error) {
	if s.resources == nil {
		return nil, false, nil
	}
	return s.resources, true, nil
}
