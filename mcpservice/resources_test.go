package mcpservice

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

func TestResourcesContainerStaticRead(t *testing.T) {
	ctx := context.Background()
	rc := NewResourcesContainer(
		WithStaticResource(
			mcp.Resource{URI: "mem://greeting", Name: "greeting", MimeType: "text/plain"},
			mcp.ResourceContents{URI: "mem://greeting", MimeType: "text/plain", Text: "hi"},
		),
	)

	page, err := rc.ListResources(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].URI != "mem://greeting" {
		t.Fatalf("unexpected resources: %+v", page.Items)
	}

	contents, err := rc.ReadResource(ctx, nil, "mem://greeting")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(contents) != 1 || contents[0].Text != "hi" {
		t.Fatalf("unexpected contents: %+v", contents)
	}

	if _, err := rc.ReadResource(ctx, nil, "mem://absent"); err == nil || !strings.Contains(err.Error(), "resource not found") {
		t.Fatalf("absent read err = %v", err)
	}
}

func TestResourcesContainerTemplateFallback(t *testing.T) {
	ctx := context.Background()
	rc := NewResourcesContainer(
		WithResourceTemplate(mcp.ResourceTemplate{URITemplate: "echo://{message}", Name: "echo"}),
		WithReadFunc(func(ctx context.Context, _ *sessions.Session, uri string) ([]mcp.ResourceContents, error) {
			msg, ok := strings.CutPrefix(uri, "echo://")
			if !ok {
				return nil, fmt.Errorf("resource not found: %s", uri)
			}
			return []mcp.ResourceContents{{URI: uri, Text: "Resource echo: " + msg}}, nil
		}),
	)

	tpls, err := rc.ListResourceTemplates(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(tpls.Items) != 1 || tpls.Items[0].URITemplate != "echo://{message}" {
		t.Fatalf("unexpected templates: %+v", tpls.Items)
	}

	contents, err := rc.ReadResource(ctx, nil, "echo://hello")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if contents[0].Text != "Resource echo: hello" {
		t.Fatalf("contents = %q, want %q", contents[0].Text, "Resource echo: hello")
	}
}

func TestResourcesContainerReplaceNotifies(t *testing.T) {
	ctx := context.Background()
	rc := NewResourcesContainer()
	ch, cancel := rc.Subscriber()
	defer cancel()

	rc.ReplaceResources(ctx, []mcp.Resource{{URI: "mem://new", Name: "new"}}, nil)

	select {
	case <-ch:
	default:
		t.Fatalf("replace did not signal subscribers")
	}

	page, err := rc.ListResources(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].URI != "mem://new" {
		t.Fatalf("replace did not swap the resource set: %+v", page.Items)
	}
}

func TestChangeNotifierFanOut(t *testing.T) {
	var cn ChangeNotifier
	a, cancelA := cn.Subscriber()
	b, cancelB := cn.Subscriber()
	defer cancelA()
	defer cancelB()

	cn.Notify(context.Background())
	cn.Notify(context.Background()) // coalesces into the single buffered slot

	for name, ch := range map[string]<-chan struct{}{"a": a, "b": b} {
		select {
		case <-ch:
		default:
			t.Fatalf("subscriber %s missed notification", name)
		}
	}

	cn.Close()
	if _, ok := <-a; ok {
		t.Fatalf("subscriber channel not closed")
	}

	// Subscribing after close yields an already-closed channel.
	ch, cancel := cn.Subscriber()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("post-close subscriber channel not closed")
	}
}

func TestChangeNotifierCancelUnregisters(t *testing.T) {
	ctx := context.Background()
	var cn ChangeNotifier
	gone, cancelGone := cn.Subscriber()
	kept, cancelKept := cn.Subscriber()
	defer cancelKept()

	cancelGone()
	if _, ok := <-gone; ok {
		t.Fatalf("cancelled subscriber channel not closed")
	}

	cn.Notify(ctx)
	select {
	case _, ok := <-kept:
		if !ok {
			t.Fatalf("live subscriber channel closed by another's cancel")
		}
	default:
		t.Fatalf("live subscriber missed notification after peer cancelled")
	}

	// Cancel is idempotent and safe after Close.
	cancelGone()
	cn.Close()
	cancelKept()
}
