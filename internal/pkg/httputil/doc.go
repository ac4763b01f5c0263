// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers write JSON through these helpers and translate service errors
// with WriteError, so every endpoint returns the same error envelope and
// internal failures are logged rather than echoed to the client.
package httputil
