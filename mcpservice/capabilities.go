// Package mcpservice hosts the capability handlers the session gate
// dispatches into: the server's identity plus its tools and resources
// surfaces. The gate discovers capabilities per session and translates
// JSON-RPC method calls into calls on these interfaces; it does not own or
// validate handler logic.
//
// Conventions:
//   - Capability discovery returns (cap, ok, err). ok == false means the
//     capability is absent and will not be advertised. An empty-but-present
//     capability (e.g. zero tools) is still advertised.
//   - All methods accept a context.Context and MUST honor cancellation.
//   - Implementations MUST be safe for concurrent use; one capability value
//     is typically shared by every session in the process.
package mcpservice

import (
	"context"

	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

// ServerCapabilities is the shared protocol-server instance the transport
// dispatches into for every session.
type ServerCapabilities interface {
	// GetServerInfo returns implementation information surfaced in
	// initialize results. Called per handshake; should be inexpensive.
	GetServerInfo(ctx context.Context, session *sessions.Session) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the server's preferred protocol
	// version. If ok is false the client's requested version is echoed back.
	GetPreferredProtocolVersion(ctx context.Context) (version string, ok bool, err error)

	// GetInstructions returns optional human-readable instructions included
	// in the initialize result when ok is true.
	GetInstructions(ctx context.Context, session *sessions.Session) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools surface, or ok=false when tools
	// are not supported.
	GetToolsCapability(ctx context.Context, session *sessions.Session) (cap ToolsCapability, ok bool, err error)

	// GetResourcesCapability returns the resources surface, or ok=false when
	// resources are not supported.
	GetResourcesCapability(ctx context.Context, session *sessions.Session) (cap ResourcesCapability, ok bool, err error)
}

// ToolsCapability is the tools surface of a server. Implementations that
// also implement ChangeSubscriber get listChanged advertised and forwarded
// onto each session's stream.
type ToolsCapability interface {
	// ListTools returns a page of tool descriptors. A nil cursor requests
	// the first page.
	ListTools(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool executes a tool invocation. Unknown tool names should produce
	// a descriptive error the gate can surface as a JSON-RPC error.
	CallTool(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// ResourcesCapability is the resources surface of a server.
type ResourcesCapability interface {
	// ListResources returns a page of concrete resources.
	ListResources(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Resource], error)

	// ListResourceTemplates returns a page of resource URI templates.
	ListResourceTemplates(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error)

	// ReadResource returns the contents for a specific resource URI.
	ReadResource(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error)
}

// Page is a single page of results with an optional continuation cursor.
// Items is never nil; NewPage normalizes nil input to an empty slice.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// PageOption configures a Page constructed via NewPage.
type PageOption[T any] func(*Page[T])

// WithNextCursor marks the page as continuable at the given cursor.
func WithNextCursor[T any](cursor string) PageOption[T] {
	return func(p *Page[T]) { p.NextCursor = &cursor }
}

// NewPage constructs a Page from items, normalizing nil to empty.
func NewPage[T any](items []T, opts ...PageOption[T]) Page[T] {
	if items == nil {
		items = make([]T, 0)
	}
	p := Page[T]{Items: items}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
