// Package server hosts the Fiber HTTP service: request-ID and recover
// middlewares, plus the catch-all handler that turns each inbound request into
// an httpx exchange, summons the hydra instance chosen by the picker and writes
// the mediated response back. Diagnostics live under /-/ and are registered by
// the routes subpackage; keep exports narrow and accept explicit dependencies.
package server
