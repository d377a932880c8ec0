// Package middleware exposes the Authority over HTTP.
//
// # Guards
//
//   - [Guard] verifies the access token (bearer header or cookie) and puts
//     the claims on the request context.
//   - [RequirePermission] checks a named permission on those claims.
//   - [RequestContext] forwards client address, user agent, device id and
//     request id to the Authority.
//
// # Handlers
//
// [Handlers.Routes] mounts login, callback, refresh, logout and session
// listing under /auth. Token cookies are HttpOnly, Secure and
// SameSite=Strict.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Authority calls and maps the
// Authority's errors to status codes with [WriteError]. It never parses
// tokens or touches Redis itself.
package middleware
