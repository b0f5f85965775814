// Package session exposes the credential guard on the admin server.
//
//	GET    /session        guard state and token expiry
//	POST   /session/token  install an externally obtained token pair
//	DELETE /session        drop the credentials
//
// Tokens are never echoed back.
package session
