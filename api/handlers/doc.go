// Package handlers implements the HTTP surface: session management REST
// endpoints, the stats endpoint, and health checks. The WebSocket
// transport lives in package transport; these handlers cover everything
// a client can do without holding a live connection.
package handlers
