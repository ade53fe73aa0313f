// Package mcp contains the wire-level types for the subset of the Model
// Context Protocol served by this module: the initialize handshake, the
// tools and resources surfaces, and the notifications the session gate can
// emit on a server-to-client stream.
//
// The types here are plain JSON-shaped structs with no behavior. Dispatch
// and session semantics live in the streaminghttp and sessions packages.
package mcp
