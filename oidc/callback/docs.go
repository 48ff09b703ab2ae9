/*
callback is a package that provides the http surface of the authorization
code flow with PKCE: the login redirect, the provider callback, logout and
the optional debug routes.

Handler routes, below the configured URL prefix (default /okta):

	GET /login                         redirect to the provider (or a preview page in debug mode)
	GET /authorization-code/callback   the configured callback path
	GET /logout                        redirect to the provider's logout endpoint
	GET /post-logout                   return from the provider's logout endpoint
	GET /test-callback                 debug only: validate code and state without an exchange
	GET /userinfo                      debug only: userinfo claims for the session's access token
	GET /introspect                    debug only: non-secret description of the session

After a successful callback the userinfo claims are handed to a
UserinfoConsumer, chosen at construction time either directly or by name
from a Registry.
*/
package callback
