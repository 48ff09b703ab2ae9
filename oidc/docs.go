/*
oidc is a package for authenticating users of a web application against an
Okta (or any OIDC compatible) authorization server using the OAuth2
authorization code flow with PKCE (RFC 7636, S256 only).

Primary types provided by the package

* Config: the relying party configuration (client id/secret, the provider's
authorization, token, userinfo and logout endpoints, the redirect URL, scope,
debug mode). Built with NewConfig or loaded with LoadConfigFromEnv and
LoadConfigFile.

* SessionStore: the contract for the per-session storage which keeps the
state and code_verifier between the authorization redirect and the callback.
The session/memory and session/redis packages provide implementations.

* Provider: drives the flow. PrepareAuthorizationRedirect generates and
stores a fresh state and code_verifier and returns the redirect to the
provider. Callback validates the returned code and state, exchanges the code
using the stored verifier, stores the tokens and fetches the userinfo
claims. PrepareLogoutRedirect and CompleteLogout implement the logout round
trip.

* Client: the back-channel calls (token exchange with HTTP Basic client
authentication, userinfo with a Bearer token).

* TestProvider: a local TLS provider for tests, which checks the PKCE
verifier against the challenge it was sent.

Errors are classified with ErrorKind into configuration errors, callback
rejections, upstream protocol errors and transport errors.

The oidc/callback package

The callback package provides an http.Handler with the login, callback,
logout and debug routes a web application mounts to use a Provider.

Example

* Okta web application:
oidc/examples/okta
*/
package oidc
