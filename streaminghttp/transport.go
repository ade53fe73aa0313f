package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mcpgate/mcp-gate-go/internal/jsonrpc"
	"github.com/mcpgate/mcp-gate-go/internal/logctx"
	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/mcpservice"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

// outboundEvent is one framed server-to-client message waiting on the SSE
// queue. The id doubles as the SSE event id.
type outboundEvent struct {
	id   string
	data []byte
}

const outboundQueueDepth = 32

// sessionTransport is the per-session transport behind the streamable HTTP
// endpoint. It dispatches client envelopes into the shared capability server,
// owns the outbound notification queue drained by the GET stream, and emits
// its close event exactly once.
type sessionTransport struct {
	id     string
	log    *slog.Logger
	server mcpservice.ServerCapabilities
	sess   *sessions.Session

	outbound chan outboundEvent

	hsMu        sync.Mutex
	handshaked  bool
	protocol    string
	clientInfo  mcp.ImplementationInfo
	feedCancels []func()

	onHandshake func(ctx context.Context) error

	closeMu   sync.Mutex
	onClose   []func()
	closeOnce sync.Once
	done      chan struct{}
}

var _ sessions.Transport = (*sessionTransport)(nil)

func newSessionTransport(id string, server mcpservice.ServerCapabilities, log *slog.Logger) *sessionTransport {
	t := &sessionTransport{
		id:       id,
		log:      log,
		server:   server,
		outbound: make(chan outboundEvent, outboundQueueDepth),
		done:     make(chan struct{}),
	}
	t.sess = sessions.NewSession(id, t)
	return t
}

// Session returns the session bound to this transport.
func (t *sessionTransport) Session() *sessions.Session { return t.sess }

// OnHandshake sets the callback invoked when the first initialize completes.
// The router wires the registry insert here so a transport that never
// finishes its handshake is never registered.
func (t *sessionTransport) OnHandshake(fn func(ctx context.Context) error) {
	t.onHandshake = fn
}

// OnClose subscribes to the transport's close event. Subscribers registered
// after close run immediately.
func (t *sessionTransport) OnClose(fn func()) {
	t.closeMu.Lock()
	select {
	case <-t.done:
		t.closeMu.Unlock()
		fn()
		return
	default:
	}
	t.onClose = append(t.onClose, fn)
	t.closeMu.Unlock()
}

func (t *sessionTransport) SessionID() string { return t.id }

// ProtocolVersion returns the negotiated protocol version, or "" before the
// handshake completes.
func (t *sessionTransport) ProtocolVersion() string {
	t.hsMu.Lock()
	defer t.hsMu.Unlock()
	return t.protocol
}

// Deliver implements sessions.Transport. Capability failures surface as
// JSON-RPC error responses; the error return is reserved for transport-level
// failures such as delivering to a closed transport.
func (t *sessionTransport) Deliver(ctx context.Context, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error) {
	select {
	case <-t.done:
		return nil, sessions.ErrSessionClosed
	default:
	}

	req := msg.AsRequest()
	if req == nil {
		// Client responses: the gate issues no server-to-client requests, so
		// there is nothing to correlate. Log and drop.
		t.log.DebugContext(ctx, "rpc.response.drop", slog.String("id", msg.ID.String()))
		return nil, nil
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   msg.Type(),
	})

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return t.handleInitialize(ctx, req)
	case mcp.InitializedNotificationMethod, mcp.CancelledNotificationMethod:
		return nil, nil
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return t.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return t.handleToolsCall(ctx, req)
	case mcp.ResourcesListMethod:
		return t.handleResourcesList(ctx, req)
	case mcp.ResourcesTemplatesListMethod:
		return t.handleResourceTemplatesList(ctx, req)
	case mcp.ResourcesReadMethod:
		return t.handleResourcesRead(ctx, req)
	default:
		if req.ID.IsNil() {
			t.log.DebugContext(ctx, "rpc.notification.drop")
			return nil, nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
	}
}

// handleInitialize answers the handshake. The first initialize completes the
// handshake and registers the session through the OnHandshake callback; later
// ones are answered with the current initialize result so a client following
// a synthesized handshake with its own still gets a coherent reply.
func (t *sessionTransport) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req.ID.IsNil() {
		return jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "initialize must be a request", nil), nil
	}

	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid initialize params: %v", err), nil), nil
		}
	}

	t.hsMu.Lock()
	defer t.hsMu.Unlock()

	version, ok, err := t.server.GetPreferredProtocolVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve protocol version: %w", err)
	}
	if !ok {
		version = params.ProtocolVersion
	}
	if version == "" {
		version = mcp.LatestProtocolVersion
	}

	result, err := t.initializeResult(ctx, version)
	if err != nil {
		return nil, err
	}

	if !t.handshaked {
		t.protocol = version
		t.clientInfo = params.ClientInfo
		if t.onHandshake != nil {
			if err := t.onHandshake(ctx); err != nil {
				return nil, fmt.Errorf("complete handshake for session %s: %w", t.id, err)
			}
		}
		t.handshaked = true
		t.startChangeFeeds(ctx)
		t.log.InfoContext(ctx, "session.handshake",
			slog.String("session_id", t.id),
			slog.String("protocol_version", version),
			slog.String("client", params.ClientInfo.Name),
		)
	}

	return jsonrpc.NewResultResponse(req.ID, result)
}

func (t *sessionTransport) initializeResult(ctx context.Context, version string) (*mcp.InitializeResult, error) {
	info, err := t.server.GetServerInfo(ctx, t.sess)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}

	caps := mcp.ServerCapabilities{}
	if tc, ok, err := t.server.GetToolsCapability(ctx, t.sess); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok {
		_, listChanged := tc.(mcpservice.ChangeSubscriber)
		caps.Tools = &mcp.ToolsCapability{ListChanged: listChanged}
	}
	if rc, ok, err := t.server.GetResourcesCapability(ctx, t.sess); err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	} else if ok {
		_, listChanged := rc.(mcpservice.ChangeSubscriber)
		caps.Resources = &mcp.ResourcesCapability{ListChanged: listChanged}
	}

	result := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      info,
	}
	if instr, ok, err := t.server.GetInstructions(ctx, t.sess); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		result.Instructions = instr
	}
	return result, nil
}

// startChangeFeeds forwards capability change signals onto the outbound queue
// as list_changed notifications. Called once, under hsMu; the subscriptions
// are cancelled when the transport closes.
func (t *sessionTransport) startChangeFeeds(ctx context.Context) {
	if tc, ok, err := t.server.GetToolsCapability(ctx, t.sess); err == nil && ok {
		if sub, ok := tc.(mcpservice.ChangeSubscriber); ok {
			ch, cancel := sub.Subscriber()
			t.feedCancels = append(t.feedCancels, cancel)
			go t.forwardChanges(ch, mcp.ToolsListChangedNotificationMethod)
		}
	}
	if rc, ok, err := t.server.GetResourcesCapability(ctx, t.sess); err == nil && ok {
		if sub, ok := rc.(mcpservice.ChangeSubscriber); ok {
			ch, cancel := sub.Subscriber()
			t.feedCancels = append(t.feedCancels, cancel)
			go t.forwardChanges(ch, mcp.ResourcesListChangedNotificationMethod)
		}
	}
}

func (t *sessionTransport) forwardChanges(ch <-chan struct{}, method mcp.Method) {
	for {
		select {
		case <-t.done:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := t.notify(method, nil); err != nil {
				return
			}
		}
	}
}

// notify queues one server-to-client notification for the SSE stream.
func (t *sessionTransport) notify(method mcp.Method, params any) error {
	req, err := jsonrpc.NewRequest(nil, string(method), params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", method, err)
	}
	select {
	case t.outbound <- outboundEvent{id: uuid.NewString(), data: data}:
		return nil
	case <-t.done:
		return sessions.ErrSessionClosed
	}
}

// Stream implements sessions.Transport by draining the outbound queue until
// the context ends or the transport closes.
func (t *sessionTransport) Stream(ctx context.Context, write sessions.MessageWriterFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case ev := <-t.outbound:
			if err := write(ctx, ev.id, ev.data); err != nil {
				return err
			}
		}
	}
}

// Close implements sessions.Transport. The close event fires exactly once no
// matter how many paths race to close: explicit DELETE, stream disconnect, or
// a failed bootstrap discarding the transport.
func (t *sessionTransport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeMu.Lock()
		handlers := t.onClose
		t.onClose = nil
		t.closeMu.Unlock()
		for _, fn := range handlers {
			fn()
		}
		t.hsMu.Lock()
		client := t.clientInfo.Name
		cancels := t.feedCancels
		t.feedCancels = nil
		t.hsMu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		t.log.InfoContext(ctx, "session.close",
			slog.String("session_id", t.id),
			slog.String("client", client),
		)
	})
	return nil
}

func (t *sessionTransport) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tc, ok, err := t.server.GetToolsCapability(ctx, t.sess)
	if err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools not supported", nil), nil
	}

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %v", err), nil), nil
		}
	}

	page, err := tc.ListTools(ctx, t.sess, cursorPtr(params.Cursor))
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}

	result := mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (t *sessionTransport) handleToolsCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tc, ok, err := t.server.GetToolsCapability(ctx, t.sess)
	if err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools not supported", nil), nil
	}

	var params mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %v", err), nil), nil
	}

	result, err := tc.CallTool(ctx, t.sess, &params)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (t *sessionTransport) handleResourcesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	rc, ok, err := t.server.GetResourcesCapability(ctx, t.sess)
	if err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources not supported", nil), nil
	}

	var params mcp.ListResourcesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %v", err), nil), nil
		}
	}

	page, err := rc.ListResources(ctx, t.sess, cursorPtr(params.Cursor))
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}

	result := mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (t *sessionTransport) handleResourceTemplatesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	rc, ok, err := t.server.GetResourcesCapability(ctx, t.sess)
	if err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources not supported", nil), nil
	}

	var params mcp.ListResourceTemplatesRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %v", err), nil), nil
		}
	}

	page, err := rc.ListResourceTemplates(ctx, t.sess, cursorPtr(params.Cursor))
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil), nil
	}

	result := mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}
	return jsonrpc.NewResultResponse(req.ID, result)
}

func (t *sessionTransport) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	rc, ok, err := t.server.GetResourcesCapability(ctx, t.sess)
	if err != nil {
		return nil, fmt.Errorf("get resources capability: %w", err)
	}
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources not supported", nil), nil
	}

	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("invalid params: %v", err), nil), nil
	}

	contents, err := rc.ReadResource(ctx, t.sess, params.URI)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, mcp.ReadResourceResult{Contents: contents})
}

func cursorPtr(cursor string) *string {
	if cursor == "" {
		return nil
	}
	return &cursor
}
