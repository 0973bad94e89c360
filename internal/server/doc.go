// Package server hosts the TCP connection dispatcher that hands every accepted
// client connection to its own relay worker, plus the optional Fiber
// diagnostics app that exposes cache statistics. Both take their collaborators
// explicitly so tests can inject fake handlers and in-memory caches.
package server
