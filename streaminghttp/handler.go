package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/mcpgate/mcp-gate-go/internal/jsonrpc"
	"github.com/mcpgate/mcp-gate-go/internal/logctx"
	"github.com/mcpgate/mcp-gate-go/mcp"
	"github.com/mcpgate/mcp-gate-go/mcpservice"
	"github.com/mcpgate/mcp-gate-go/sessions"
)

const (
	sessionIDHeader       = "Mcp-Session-Id"
	protocolVersionHeader = "Mcp-Protocol-Version"

	// maxBodyBytes bounds a single POST payload.
	maxBodyBytes = 4 << 20
)

// invalidSessionBody is the exact 404 body for GET and DELETE requests whose
// session header is absent or matches no live session.
const invalidSessionBody = "Invalid or missing session ID"

// Option configures a StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	log    *slog.Logger
	strict bool
}

// WithLogger sets the logger for the handler and every transport it creates.
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.log = log }
}

// WithStrictSessionValidation selects strict handling of an unmatched session
// id on POST: the request is rejected with 404 instead of bootstrapping a
// replacement session. The default is lenient.
func WithStrictSessionValidation(strict bool) Option {
	return func(c *newConfig) { c.strict = strict }
}

// StreamingHTTPHandler serves the MCP streamable HTTP transport on a single
// endpoint. POST carries client-to-server JSON-RPC, GET opens the
// server-to-client SSE stream, DELETE terminates the session.
type StreamingHTTPHandler struct {
	log      *slog.Logger
	mux      *http.ServeMux
	registry *sessions.Registry
	server   mcpservice.ServerCapabilities
	strict   bool
	endpoint string
}

// New constructs a handler serving the given endpoint path, e.g. "/mcp".
func New(endpointPath string, registry *sessions.Registry, server mcpservice.ServerCapabilities, opts ...Option) (*StreamingHTTPHandler, error) {
	if !strings.HasPrefix(endpointPath, "/") {
		return nil, fmt.Errorf("endpoint path %q must start with /", endpointPath)
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if server == nil {
		return nil, fmt.Errorf("server capabilities are required")
	}

	cfg := newConfig{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &StreamingHTTPHandler{
		log:      cfg.log,
		registry: registry,
		server:   server,
		strict:   cfg.strict,
		endpoint: endpointPath,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+endpointPath, h.handlePostMessage)
	mux.HandleFunc("GET "+endpointPath, h.handleGetStream)
	mux.HandleFunc("DELETE "+endpointPath, h.handleDeleteSession)
	h.mux = mux

	return h, nil
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// handlePostMessage accepts one JSON-RPC message or a batch, resolves the
// session per the routing rules, and delivers the payload in order.
func (h *StreamingHTTPHandler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mt, err := contenttype.GetMediaType(r)
	if err != nil || mt.Type != "application" || mt.Subtype != "json" {
		writeJSONError(w, http.StatusUnsupportedMediaType, jsonrpc.ErrorCodeInvalidRequest, "Content-Type must be application/json")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "read request body: %v", err)
		return
	}

	msgs, batch, err := decodeMessages(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "%v", err)
		return
	}
	if len(msgs) == 0 {
		writeJSONError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "empty batch")
		return
	}

	sess, ok := h.resolveSession(ctx, w, r, containsInitialize(msgs))
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		State:     string(sess.State()),
	})
	w.Header().Set(sessionIDHeader, sess.ID())

	responses := make([]*jsonrpc.Response, 0, len(msgs))
	for _, msg := range msgs {
		resp, err := sess.Transport().Deliver(ctx, msg)
		if err != nil {
			h.log.ErrorContext(ctx, "rpc.deliver.err", slog.String("err", err.Error()))
			h.discardIfPending(ctx, sess)
			writeJSONError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "internal error")
			return
		}
		if resp != nil {
			responses = append(responses, resp)
		}
	}
	h.discardIfPending(ctx, sess)

	if st, ok := sess.Transport().(*sessionTransport); ok {
		if v := st.ProtocolVersion(); v != "" {
			w.Header().Set(protocolVersionHeader, v)
		}
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if acceptsEventStream(r) {
		h.writeStreamedResponses(ctx, w, responses)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if batch {
		if err := enc.Encode(responses); err != nil {
			h.log.ErrorContext(ctx, "rpc.respond.err", slog.String("err", err.Error()))
		}
		return
	}
	if err := enc.Encode(responses[0]); err != nil {
		h.log.ErrorContext(ctx, "rpc.respond.err", slog.String("err", err.Error()))
	}
}

// handleGetStream opens the server-to-client SSE channel for a live session.
func (h *StreamingHTTPHandler) handleGetStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		State:     string(sess.State()),
	})

	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{
		contenttype.NewMediaType("text/event-stream"),
	}); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, jsonrpc.ErrorCodeInvalidRequest, "Accept must include text/event-stream")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(sessionIDHeader, sess.ID())
	w.WriteHeader(http.StatusOK)
	f.Flush()

	lwf := newLockedWriteFlusher(w, f)
	err := sess.Transport().Stream(ctx, func(ctx context.Context, eventID string, msg []byte) error {
		return writeSSEEvent(lwf, eventID, msg)
	})

	// A dropped connection terminates the session; an orderly shutdown of the
	// transport already did its own cleanup.
	if ctx.Err() != nil {
		_ = sess.Transport().Close(context.WithoutCancel(ctx))
		return
	}
	if err != nil {
		h.log.DebugContext(ctx, "stream.end", slog.String("err", err.Error()))
	}
}

// handleDeleteSession terminates a live session.
func (h *StreamingHTTPHandler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	if err := sess.Transport().Close(ctx); err != nil {
		h.log.ErrorContext(ctx, "session.delete.err", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveSession applies the POST routing rules. When it returns ok=false the
// response has already been written.
func (h *StreamingHTTPHandler) resolveSession(ctx context.Context, w http.ResponseWriter, r *http.Request, hasInitialize bool) (*sessions.Session, bool) {
	id := r.Header.Get(sessionIDHeader)
	if id != "" {
		if sess, found := h.registry.Lookup(id); found {
			return sess, true
		}
		if h.strict {
			h.log.InfoContext(ctx, "session.reject", slog.String("session_id", id))
			http.Error(w, fmt.Sprintf("sessionId %s not found", id), http.StatusNotFound)
			return nil, false
		}
		// Lenient mode honors the supplied id for the replacement session,
		// bootstrapping it with a synthesized handshake regardless of what the
		// payload looks like.
		sess, err := h.adoptSession(ctx, id)
		if err != nil {
			h.log.ErrorContext(ctx, "session.adopt.err", slog.String("err", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "internal error")
			return nil, false
		}
		return sess, true
	}

	if hasInitialize {
		// Compliant client: its own initialize completes the handshake and
		// registers the session.
		return h.newPendingSession(""), true
	}

	sess, err := h.adoptSession(ctx, "")
	if err != nil {
		h.log.ErrorContext(ctx, "session.adopt.err", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "internal error")
		return nil, false
	}
	return sess, true
}

// requireSession resolves the session header for GET and DELETE, which never
// bootstrap.
func (h *StreamingHTTPHandler) requireSession(w http.ResponseWriter, r *http.Request) (*sessions.Session, bool) {
	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		http.Error(w, invalidSessionBody, http.StatusNotFound)
		return nil, false
	}
	sess, found := h.registry.Lookup(id)
	if !found {
		http.Error(w, invalidSessionBody, http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// discardIfPending closes a freshly built transport whose handshake never
// completed, so a rejected initialize leaves nothing behind.
func (h *StreamingHTTPHandler) discardIfPending(ctx context.Context, sess *sessions.Session) {
	if sess.State() == sessions.StatePending {
		_ = sess.Transport().Close(ctx)
	}
}

// writeStreamedResponses answers a POST whose client negotiated
// text/event-stream: each response becomes one SSE event and the stream ends.
func (h *StreamingHTTPHandler) writeStreamedResponses(ctx context.Context, w http.ResponseWriter, responses []*jsonrpc.Response) {
	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	lwf := newLockedWriteFlusher(w, f)
	for _, resp := range responses {
		data, err := json.Marshal(resp)
		if err != nil {
			h.log.ErrorContext(ctx, "rpc.respond.err", slog.String("err", err.Error()))
			return
		}
		if err := writeSSEEvent(lwf, uuid.NewString(), data); err != nil {
			h.log.DebugContext(ctx, "rpc.respond.err", slog.String("err", err.Error()))
			return
		}
	}
}

// decodeMessages parses a request body into messages, reporting whether the
// payload used the batch form.
func decodeMessages(body []byte) ([]*jsonrpc.AnyMessage, bool, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty request body")
	}
	if trimmed[0] == '[' {
		var msgs []*jsonrpc.AnyMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, true, fmt.Errorf("invalid JSON-RPC batch: %w", err)
		}
		return msgs, true, nil
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false, fmt.Errorf("invalid JSON-RPC message: %w", err)
	}
	return []*jsonrpc.AnyMessage{&msg}, false, nil
}

// containsInitialize reports whether any message in the payload is an
// initialize request, which selects the compliant-client bootstrap path.
func containsInitialize(msgs []*jsonrpc.AnyMessage) bool {
	for _, msg := range msgs {
		if mcp.Method(msg.Method) == mcp.InitializeMethod {
			return true
		}
	}
	return false
}

// acceptsEventStream reports whether the client prefers an SSE-framed POST
// response over a plain JSON body.
func acceptsEventStream(r *http.Request) bool {
	mt, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{
		contenttype.NewMediaType("application/json"),
		contenttype.NewMediaType("text/event-stream"),
	})
	if err != nil {
		return false
	}
	return mt.Type == "text" && mt.Subtype == "event-stream"
}

// writeJSONError writes a JSON-RPC error envelope with the given HTTP status.
func writeJSONError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	res := jsonrpc.NewErrorResponse(nil, code, fmt.Sprintf(format, args...), nil)
	_ = json.NewEncoder(w).Encode(res)
}
