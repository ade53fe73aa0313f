package mcpservice

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

// ReadResourceFunc resolves the contents for a URI that has no static entry,
// typically one matching an advertised template.
type ReadResourceFunc func(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error)

// ResourcesOption configures a ResourcesContainer.
type ResourcesOption func(*ResourcesContainer)

// ResourcesContainer owns a threadsafe set of static resources and
// templates. Reads resolve static contents first and fall back to the
// configured read function for template-shaped URIs. It embeds a
// ChangeNotifier so resource set changes surface as list_changed signals.
type ResourcesContainer struct {
	mu        sync.RWMutex
	resources []mcp.Resource
	contents  map[string][]mcp.ResourceContents
	templates []mcp.ResourceTemplate
	readFn    ReadResourceFunc
	pageSize  int

	notifier ChangeNotifier
}

var (
	_ ResourcesCapability = (*ResourcesContainer)(nil)
	_ ChangeSubscriber    = (*ResourcesContainer)(nil)
)

// NewResourcesContainer constructs a container from options.
func NewResourcesContainer(opts ...ResourcesOption) *ResourcesContainer {
	rc := &ResourcesContainer{
		contents: make(map[string][]mcp.ResourceContents),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// WithStaticResource registers a listed resource and its fixed contents.
func WithStaticResource(res mcp.Resource, contents ...mcp.ResourceContents) ResourcesOption {
	return func(rc *ResourcesContainer) {
		rc.resources = append(rc.resources, res)
		rc.contents[res.URI] = contents
	}
}

// WithResourceTemplate advertises a URI template. Reads of matching URIs are
// resolved by the container's read function.
func WithResourceTemplate(tpl mcp.ResourceTemplate) ResourcesOption {
	return func(rc *ResourcesContainer) { rc.templates = append(rc.templates, tpl) }
}

// WithReadFunc sets the fallback resolver for non-static URIs.
func WithReadFunc(fn ReadResourceFunc) ResourcesOption {
	return func(rc *ResourcesContainer) { rc.readFn = fn }
}

// ReplaceResources atomically swaps the static resource set and notifies
// subscribers.
func (rc *ResourcesContainer) ReplaceResources(ctx context.Context, resources []mcp.Resource, contents map[string][]mcp.ResourceContents) {
	rc.mu.Lock()
	rc.resources = resources
	if contents == nil {
		contents = make(map[string][]mcp.ResourceContents)
	}
	rc.contents = contents
	rc.mu.Unlock()

	rc.notifier.Notify(ctx)
}

// ListResources implements ResourcesCapability with offset-cursor pagination.
func (rc *ResourcesContainer) ListResources(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	start := parseCursor(cursor)
	if start >= len(rc.resources) {
		return NewPage[mcp.Resource](nil), nil
	}
	end := min(start+rc.pageSize, len(rc.resources))
	items := make([]mcp.Resource, end-start)
	copy(items, rc.resources[start:end])
	if end < len(rc.resources) {
		return NewPage(items, WithNextCursor[mcp.Resource](strconv.Itoa(end))), nil
	}
	return NewPage(items), nil
}

// ListResourceTemplates implements ResourcesCapability.
func (rc *ResourcesContainer) ListResourceTemplates(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	items := make([]mcp.ResourceTemplate, len(rc.templates))
	copy(items, rc.templates)
	return NewPage(items), nil
}

// ReadResource implements ResourcesCapability.
func (rc *ResourcesContainer) ReadResource(ctx context.Context, session *sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	rc.mu.RLock()
	contents, ok := rc.contents[uri]
	readFn := rc.readFn
	rc.mu.RUnlock()

	if ok {
		out := make([]mcp.ResourceContents, len(contents))
		copy(out, contents)
		return out, nil
	}
	if readFn != nil {
		return readFn(ctx, session, uri)
	}
	return nil, fmt.Errorf("resource not found: %s", uri)
}

// Subscriber implements ChangeSubscriber.
func (rc *ResourcesContainer) Subscriber() (<-chan struct{}, func()) {
	return rc.notifier.Subscriber()
}
