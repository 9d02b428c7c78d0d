// Package api defines the response envelope shared by every handler under
// api/handlers, plus the HTTP surface's high-level shape.
//
// # Channels
//
// The control plane exposes two authentication channels on one port:
//
//   - Admin channel (Authorization: Bearer <access token>): token, limit,
//     provider, usage, and trace administration.
//   - Agent channel (X-IC-Key: <control token>): the single key-fetch
//     endpoint an agent runtime calls to retrieve its bound provider
//     credential.
//
// Two endpoints are unauthenticated by design: GET /api/health, and
// POST /api/v1/api-tokens/validate (the endpoint external services use to
// check whether a token is currently valid).
//
// # Envelope
//
// Every 2xx response body is a Response. Every non-2xx response body is an
// ErrorInfo: {error, code, details?}, where code is the stable machine-
// readable error kind and error is the human-readable message.
package api
