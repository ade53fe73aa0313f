package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

// ToolHandler executes one tool invocation.
type ToolHandler func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// TextResult builds a successful single-text-block tool result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextContent(text)}}
}

// Errorf builds a tool-level error result. Tool-level errors flow back as
// results with isError set, not as JSON-RPC errors.
func Errorf(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

// ToolOption configures NewTool.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool
}

// WithToolDescription sets the description used in tool listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls the unknown-field policy. When
// false (the default) the generated schema sets additionalProperties=false
// and decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a StaticTool from a typed argument struct A. The input
// schema is reflected from A's json and jsonschema struct tags; at call time
// the raw arguments are decoded into A before the function runs.
func NewTool[A any](name string, fn func(ctx context.Context, session *sessions.Session, args A) (*mcp.CallToolResult, error), opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(req.Arguments, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(req.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
		}
		return fn(ctx, session, a)
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// reflectInputSchema reflects a Go struct into the simplified MCP input
// schema. Non-object shapes degrade to an empty object schema.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	required = append(required, s.Required...)

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

// toSchemaProperty maps a reflected jsonschema node to the simplified wire
// shape, recursing into arrays and objects.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{Type: s.Type, Description: s.Description}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns a mutable, threadsafe set of tools and dispatches
// calls by name. It embeds a ChangeNotifier so replacing the tool set
// surfaces as a tools/list_changed signal to subscribed sessions.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler
	pageSize int

	notifier ChangeNotifier
}

var (
	_ ToolsCapability  = (*ToolsContainer)(nil)
	_ ChangeSubscriber = (*ToolsContainer)(nil)
)

const defaultPageSize = 50

// NewToolsContainer constructs a container with the given tool definitions.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	tc := &ToolsContainer{pageSize: defaultPageSize}
	tc.Replace(context.Background(), defs...)
	return tc
}

// Replace atomically swaps the entire tool set and notifies subscribers.
func (tc *ToolsContainer) Replace(ctx context.Context, defs ...StaticTool) {
	tc.mu.Lock()
	tc.tools = make([]mcp.Tool, 0, len(defs))
	tc.handlers = make(map[string]ToolHandler, len(defs))
	for _, def := range defs {
		tc.tools = append(tc.tools, def.Descriptor)
		tc.handlers[def.Descriptor.Name] = def.Handler
	}
	tc.mu.Unlock()

	tc.notifier.Notify(ctx)
}

// ListTools implements ToolsCapability with offset-cursor pagination.
func (tc *ToolsContainer) ListTools(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	start := parseCursor(cursor)
	if start >= len(tc.tools) {
		return NewPage[mcp.Tool](nil), nil
	}
	end := min(start+tc.pageSize, len(tc.tools))
	items := make([]mcp.Tool, end-start)
	copy(items, tc.tools[start:end])
	if end < len(tc.tools) {
		return NewPage(items, WithNextCursor[mcp.Tool](strconv.Itoa(end))), nil
	}
	return NewPage(items), nil
}

// CallTool implements ToolsCapability by dispatching to the named handler.
func (tc *ToolsContainer) CallTool(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	tc.mu.RLock()
	handler, ok := tc.handlers[req.Name]
	tc.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", req.Name)
	}
	return handler(ctx, session, req)
}

// Subscriber implements ChangeSubscriber.
func (tc *ToolsContainer) Subscriber() (<-chan struct{}, func()) {
	return tc.notifier.Subscriber()
}

// parseCursor interprets an offset cursor; malformed cursors restart from 0.
func parseCursor(cursor *string) int {
	if cursor == nil || *cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(*cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
