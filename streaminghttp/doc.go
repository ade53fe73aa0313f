// Package streaminghttp implements the MCP streamable HTTP transport as a
// session gate: a single-endpoint http.Handler that maps every request onto a
// per-session transport held in a sessions.Registry.
//
// Routing on POST:
//
//  1. Mcp-Session-Id header matching a live session: the payload is delivered
//     through the existing transport.
//  2. Header present but unmatched, strict mode: 404, nothing is created.
//  3. No header and the payload carries an initialize request: a fresh
//     session is bootstrapped and the client's own handshake registers it.
//  4. Anything else (no header and a non-handshake payload, or an unmatched
//     header in lenient mode): the gate runs a synthesized initialize through
//     a fresh transport first and then delivers the original payload. An
//     unmatched supplied id is kept as the new session's identifier.
//
// GET opens the server-to-client SSE stream for a live session and DELETE
// terminates it; both answer 404 for an absent or unknown session id.
package streaminghttp
