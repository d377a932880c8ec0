// Package oauth coordinates the third-party login handshake.
//
// A login moves through explicit states:
//
//	Start -> AwaitingCallback -> StateValidated | StateRejected
//	      -> ProviderTokenObtained -> SessionCreated | Failed
//
// Begin persists a single-use [State] (CSRF token, OIDC nonce, PKCE verifier)
// and returns the provider redirect. Complete consumes that state exactly
// once, whatever the outcome, exchanges the authorization code, resolves the
// principal through the directory and hands it to the caller's session
// issuer. Nothing is retried automatically.
package oauth
