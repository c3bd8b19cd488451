// Package session implements the conversational session core: isolated
// per-session state, the session manager that brackets a session's
// lifetime with admission and resource acquisition, the mode-aware router
// that filters frames and performs atomic mode transitions, and the idle
// monitor.
//
// Each session runs one processing goroutine that consumes inbound frames
// sequentially, so a session never reorders its own conversation history.
// The admission controller and resource pool are the only state shared
// across sessions, and both are internally synchronized.
package session
