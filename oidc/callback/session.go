package callback

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/oktaauth/sdk/id"
)

// DefaultSessionCookie is the name of the cookie holding the session id.
const DefaultSessionCookie = "oktaauth_session"

// SessionIdentifier identifies the browser session a request belongs to,
// establishing one when there is none. The returned id keys the
// oidc.SessionStore.
//
// Rotate issues a fresh id for the request's browser. The Handler rotates
// the session when a login succeeds, so an id planted in a browser before
// the login never becomes an authenticated session.
type SessionIdentifier interface {
	SessionID(w http.ResponseWriter, req *http.Request) (string, error)
	Rotate(w http.ResponseWriter, req *http.Request) (string, error)
}

// CookieSessions identifies sessions by a random id kept in an HttpOnly
// cookie. The cookie only carries the id; every value lives in the
// SessionStore.
type CookieSessions struct {
	// Name of the cookie. Defaults to DefaultSessionCookie.
	Name string

	// Path of the cookie. Defaults to "/".
	Path string

	// Insecure allows the cookie to be sent over plain http, for local
	// development.
	Insecure bool
}

// SessionID implements SessionIdentifier.
func (c *CookieSessions) SessionID(w http.ResponseWriter, req *http.Request) (string, error) {
	if cookie, err := req.Cookie(c.name()); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return c.issue(w, req)
}

// Rotate implements SessionIdentifier.
func (c *CookieSessions) Rotate(w http.ResponseWriter, req *http.Request) (string, error) {
	return c.issue(w, req)
}

func (c *CookieSessions) name() string {
	if c.Name == "" {
		return DefaultSessionCookie
	}
	return c.Name
}

func (c *CookieSessions) issue(w http.ResponseWriter, req *http.Request) (string, error) {
	const op = "CookieSessions.issue"
	sid, err := id.New("sess")
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	name := c.name()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sid,
		Path:     path,
		HttpOnly: true,
		Secure:   !c.Insecure,
		// Lax so the cookie comes back on the provider's top-level redirect
		SameSite: http.SameSiteLaxMode,
	})
	// later reads within the same request see the new session
	replaceRequestCookie(req, &http.Cookie{Name: name, Value: sid})
	return sid, nil
}

func replaceRequestCookie(req *http.Request, c *http.Cookie) {
	cookies := req.Cookies()
	req.Header.Del("Cookie")
	for _, existing := range cookies {
		if existing.Name != c.Name {
			req.AddCookie(existing)
		}
	}
	req.AddCookie(c)
}
