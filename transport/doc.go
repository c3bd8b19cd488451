// Package transport carries sessions over WebSocket connections. One
// connection maps to exactly one session: the session is created during
// the handshake and ended immediately when the connection drops. Inbound
// JSON envelopes become frames routed into the session; the session's
// output stream is written back as JSON envelopes, serialized by a write
// mutex because WebSocket connections do not support concurrent writes.
package transport
