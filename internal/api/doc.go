// Package api provides the HTTP REST API and WebSocket server for the
// Wagerline access core.
//
// It exposes login with device admission, logout, the caller's own devices
// and deactivation requests, and the administrator surface for reviewing
// device requests and managing accounts.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Every authenticated request is checked against the session store, so a
// token stops working as soon as its session is revoked or its device is
// deactivated.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
