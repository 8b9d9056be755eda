// Package tailscale is a small client for the Tailscale v2 REST API.
//
// It covers the endpoints the monitor needs:
//
//	GET    /api/v2/tailnet/{tailnet}/devices
//	GET    /api/v2/device/{nodeId}
//	DELETE /api/v2/device/{nodeId}
//	GET    /api/v2/device/{nodeId}/routes
//	GET    /api/v2/tailnet/{tailnet}/users
//
// Every request carries "Authorization: Bearer <api key>" and is bounded by
// the configured timeout. Failures are classified into ErrAuth, ErrNotFound,
// ErrServer, ErrTransport, ErrDecode and ErrUnexpectedStatus.
//
// Usage:
//
//	client := tailscale.NewClient(creds, tailscale.ClientConfig{Timeout: 30 * time.Second})
//	devices, err := client.ListDevices(ctx)
//	if errors.Is(err, tailscale.ErrAuth) {
//	    // key revoked
//	}
package tailscale
