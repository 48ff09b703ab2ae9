// oktaauth signs the users of a web application in with Okta, using the
// OAuth2 authorization code flow with PKCE.
//
// The oidc package drives the flow, the oidc/callback package serves its
// HTTP routes and the session/memory and session/redis packages keep the
// per-session state.
package oktaauth
