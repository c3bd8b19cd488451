// Package stage defines the boundary interfaces for the pooled AI
// processing stages: speech recognition, language generation, and speech
// synthesis. The real inference backends live outside this server; the
// session core only ever sees these interfaces through pool leases.
//
// The package also ships simulated stages used by the demo server and the
// test suite. They honour context cancellation and configurable latency so
// concurrency behaviour can be exercised without a real backend.
package stage
