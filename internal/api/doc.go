// Package api provides the HTTP REST API and WebSocket server for the
// Tailnet Monitor.
//
// # Endpoints
//
// All routes live under /api/v1. Health and metrics are public; everything
// else needs "Authorization: Bearer <token>" (see package auth):
//
//	GET    /health
//	GET    /metrics
//	POST   /auth/ws-ticket
//	GET    /ws?ticket=...
//	GET    /entities
//	GET    /entities/{id}
//	PATCH  /entities/{id}
//	DELETE /entities/{id}
//	POST   /entities/{id}/refresh
//	GET    /entities/{id}/online
//	GET    /entities/{id}/devices[?live=true]
//	DELETE /entities/{id}/devices/{nodeId}
//	GET    /entities/{id}/devices/{nodeId}/routes
//	GET    /entities/{id}/users
//	POST   /pairing/validate
//	POST   /pairing/candidates
//	POST   /pairing
//	GET    /audit[?action=&entity_id=&subject=&limit=&offset=]
//
// Successful mutating calls (pair, rename, remove, device delete, refresh)
// are written to the audit trail when an audit repository is configured.
//
// # WebSocket
//
// Browsers cannot set headers on a WebSocket handshake, so a client first
// exchanges its bearer token for a single-use ticket, then connects with
// ?ticket=. Clients subscribe to channels named tailnet.{event kind}, for
// example tailnet.device_joined.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
