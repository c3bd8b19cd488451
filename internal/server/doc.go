// Package server manages HTTP listener lifecycle: non-blocking start,
// graceful shutdown with a bounded drain window, and SIGINT/SIGTERM
// handling via WaitForShutdown. Listener errors surface on Errors().
package server
