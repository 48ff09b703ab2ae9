package main

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/hashicorp/oktaauth/oidc"
	"github.com/hashicorp/oktaauth/oidc/callback"
)

type user struct {
	Subject string
	Email   string
	Name    string
}

// userStore keeps the users which signed in and which session belongs to
// whom.
type userStore struct {
	mu       sync.Mutex
	users    map[string]*user
	sessions map[string]string
}

func newUserStore() *userStore {
	return &userStore{
		users:    map[string]*user{},
		sessions: map[string]string{},
	}
}

// ConsumeUserinfo implements callback.UserinfoConsumer. The user is created
// on first sign in and updated afterwards.
func (s *userStore) ConsumeUserinfo(_ context.Context, sessionID string, info oidc.UserInfo) error {
	sub := info.Subject()
	if sub == "" {
		return fmt.Errorf("userinfo has no sub claim: %w", oidc.ErrUserInfoFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[sub]
	if !ok {
		u = &user{Subject: sub}
		s.users[sub] = u
	}
	u.Email, u.Name = info.Email(), info.Name()
	s.sessions[sessionID] = sub
	return nil
}

func (s *userStore) bySession(sessionID string) (user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[s.sessions[sessionID]]
	if !ok {
		return user{}, false
	}
	return *u, true
}

func (s *userStore) logout(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

var homePage = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>Home</title></head>
<body>
<h1>Hello {{ if .Name }}{{ .Name }}{{ else }}{{ .Subject }}{{ end }}</h1>
<p>{{ .Email }}</p>
<a href="{{ .LogoutPath }}">Sign out</a>
</body>
</html>`))

func home(users *userStore, h *callback.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c, err := req.Cookie(callback.DefaultSessionCookie)
		if err != nil {
			http.Redirect(w, req, h.Path(callback.RouteLogin), http.StatusFound)
			return
		}
		u, ok := users.bySession(c.Value)
		if !ok {
			http.Redirect(w, req, h.Path(callback.RouteLogin), http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = homePage.Execute(w, struct {
			user
			LogoutPath string
		}{u, h.Path(callback.RouteLogout)})
	})
}
