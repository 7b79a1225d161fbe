// Package auth validates inbound requests before any protocol upgrade or
// handler work happens.
package auth

import (
	"net"
	"net/http"
	"strings"

	"github.com/Yashground/video-processing-app-sub000/internal/domain"
)

// Authenticator checks the shared bearer token and resolves the caller's
// identity. Websocket clients cannot always set headers, so the token and
// client id are also accepted as query parameters.
type Authenticator struct {
	token string
}

func New(token string) *Authenticator {
	return &Authenticator{token: token}
}

// Authenticate verifies the request credentials. It returns
// domain.ErrAuthenticationDenied on a missing or wrong token; no resource is
// allocated for the caller in that case.
func (a *Authenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" || token != a.token {
		return "", domain.ErrAuthenticationDenied
	}

	return identityFrom(r), nil
}

// identityFrom resolves the caller identity used for the per-identity
// connection ceiling. Clients that do not name themselves are grouped by
// remote host.
func identityFrom(r *http.Request) domain.Identity {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return domain.Identity(id)
	}
	if id := r.URL.Query().Get("client_id"); id != "" {
		return domain.Identity(id)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return domain.Identity(r.RemoteAddr)
	}
	return domain.Identity(host)
}
