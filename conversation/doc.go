// Package conversation defines the value types that describe a session's
// active modality combination and the frames flowing across the transport
// boundary.
//
// A Mode is a validated, immutable value: it is constructed, checked, and
// then installed wholesale on a session. Routing code reads one complete
// Mode per frame and never observes a half-updated combination.
package conversation
