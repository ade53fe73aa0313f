// Package sessions models the unit of conversational state for the
// streamable HTTP transport: a Session binds an opaque identifier to exactly
// one live Transport, and the Registry is the process-wide map the request
// router consults on every inbound request.
//
// Lifecycle contract:
//   - A session is created Pending and becomes Active exactly once, when the
//     initialize handshake completes. The registry insert and the
//     Pending→Active transition happen atomically under the registry lock so
//     two racing requests cannot both bootstrap the same identifier.
//   - A session becomes Closed exactly once, when its transport shuts down.
//     The transport's close event removes the registry entry; a removed
//     identifier is indistinguishable from one that was never issued.
//
// The registry never persists anything and is not shared across processes.
package sessions
