package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Message to echo"`
	Count   int    `json:"count,omitempty"`
}

func TestNewToolReflectsSchema(t *testing.T) {
	tool := NewTool("echo", func(ctx context.Context, _ *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(args.Message), nil
	}, WithToolDescription("echo a message"))

	desc := tool.Descriptor
	if desc.Name != "echo" || desc.Description != "echo a message" {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if desc.InputSchema.Type != "object" {
		t.Fatalf("schema type = %q, want object", desc.InputSchema.Type)
	}
	msg, ok := desc.InputSchema.Properties["message"]
	if !ok || msg.Type != "string" {
		t.Fatalf("message property = %+v, want string", msg)
	}
	if msg.Description != "Message to echo" {
		t.Fatalf("message description = %q", msg.Description)
	}
	if cnt, ok := desc.InputSchema.Properties["count"]; !ok || cnt.Type != "integer" {
		t.Fatalf("count property = %+v, want integer", cnt)
	}
	if len(desc.InputSchema.Required) != 1 || desc.InputSchema.Required[0] != "message" {
		t.Fatalf("required = %v, want [message]", desc.InputSchema.Required)
	}
	if desc.InputSchema.AdditionalProperties {
		t.Fatalf("additionalProperties should default to false")
	}
}

func TestNewToolRejectsUnknownFields(t *testing.T) {
	tool := NewTool("echo", func(ctx context.Context, _ *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(args.Message), nil
	})

	res, err := tool.Handler(context.Background(), nil, &mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"hi","bogus":true}`),
	})
	if err != nil {
		t.Fatalf("handler err = %v", err)
	}
	if !res.IsError {
		t.Fatalf("unknown field accepted, want tool-level error")
	}
	if len(res.Content) == 0 || !strings.Contains(res.Content[0].Text, "invalid arguments") {
		t.Fatalf("unexpected error content: %+v", res.Content)
	}
}

func TestNewToolAllowsUnknownFieldsWhenConfigured(t *testing.T) {
	tool := NewTool("echo", func(ctx context.Context, _ *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(args.Message), nil
	}, WithToolAllowAdditionalProperties(true))

	res, err := tool.Handler(context.Background(), nil, &mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"hi","bogus":true}`),
	})
	if err != nil {
		t.Fatalf("handler err = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if res.Content[0].Text != "hi" {
		t.Fatalf("result = %q, want %q", res.Content[0].Text, "hi")
	}
}

func TestToolsContainerDispatch(t *testing.T) {
	ctx := context.Background()
	tc := NewToolsContainer(
		NewTool("echo", func(ctx context.Context, _ *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
			return TextResult("Tool echo: " + args.Message), nil
		}),
	)

	res, err := tc.CallTool(ctx, nil, &mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message":"hello"}`),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Content[0].Text != "Tool echo: hello" {
		t.Fatalf("result = %q, want %q", res.Content[0].Text, "Tool echo: hello")
	}

	_, err = tc.CallTool(ctx, nil, &mcp.CallToolRequest{Name: "missing"})
	if err == nil || !strings.Contains(err.Error(), "tool not found: missing") {
		t.Fatalf("unknown tool err = %v", err)
	}
}

func TestToolsContainerPagination(t *testing.T) {
	ctx := context.Background()
	defs := make([]StaticTool, 0, defaultPageSize+3)
	for i := 0; i < defaultPageSize+3; i++ {
		name := fmt.Sprintf("tool-%03d", i)
		defs = append(defs, NewTool(name, func(ctx context.Context, _ *sessions.Session, args struct{}) (*mcp.CallToolResult, error) {
			return TextResult(name), nil
		}))
	}
	tc := NewToolsContainer(defs...)

	first, err := tc.ListTools(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != defaultPageSize {
		t.Fatalf("first page len = %d, want %d", len(first.Items), defaultPageSize)
	}
	if first.NextCursor == nil {
		t.Fatalf("expected continuation cursor")
	}

	second, err := tc.ListTools(ctx, nil, first.NextCursor)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second.Items) != 3 {
		t.Fatalf("second page len = %d, want 3", len(second.Items))
	}
	if second.NextCursor != nil {
		t.Fatalf("unexpected cursor on final page")
	}

	// Malformed cursors restart from the top rather than failing.
	bad := "not-a-number"
	restart, err := tc.ListTools(ctx, nil, &bad)
	if err != nil {
		t.Fatalf("list with bad cursor: %v", err)
	}
	if len(restart.Items) != defaultPageSize {
		t.Fatalf("restart page len = %d, want %d", len(restart.Items), defaultPageSize)
	}
}

func TestToolsContainerReplaceNotifies(t *testing.T) {
	ctx := context.Background()
	tc := NewToolsContainer()
	ch, cancel := tc.Subscriber()
	defer cancel()

	tc.Replace(ctx, NewTool("late", func(ctx context.Context, _ *sessions.Session, args struct{}) (*mcp.CallToolResult, error) {
		return TextResult("late"), nil
	}))

	select {
	case <-ch:
	default:
		t.Fatalf("replace did not signal subscribers")
	}
}
