// Package api provides the local admin HTTP API and WebSocket event stream
// for a running clashxw supervisor.
//
// Routes live under /api/v1: health, status, the control-plane endpoint of
// the active profile, profile listing and selection, engine start, stop and
// restart, the engine journal, and /ws for live lifecycle events. A /ws
// client first receives the engine status, then each event whose kind it
// selected with ?kinds= (all kinds by default).
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// When a token is configured every route except /health requires it, either
// as "Authorization: Bearer <token>" or as a token query parameter (for
// WebSocket clients that cannot set headers). The engine's own control-plane
// secret is never returned.
package api
