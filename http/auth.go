package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	// The header where clients put their identifier.
	HeaderClientID = "X-Kenaz-Client-Id"

	ErrTypeUnauthorized = "unauthorized"
)

// VerifyAuthToken returns a websocket handshake that rejects connections
// without the given bearer token. Browsers cannot set headers on WebSocket
// connections so the token can also be passed with the token query
// parameter. An empty token disables the check.
func VerifyAuthToken(token string) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		if err := verifyToken(token, r, true); err != nil {
			logs.WithClientID(r.Header.Get(HeaderClientID)).Error(err)
			return err
		}
		return nil
	}
}

// VerifyAuthTokenHandler rejects requests without the given bearer token with
// a 401. An empty token disables the check.
func VerifyAuthTokenHandler(token string, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := verifyToken(token, r, false); err != nil {
			logs.WithClientID(r.Header.Get(HeaderClientID)).Error(err)
			writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func verifyToken(token string, r *http.Request, allowQuery bool) error {
	if token == "" {
		return nil
	}

	got := GetTokenFromHTTPRequest(r)
	if got == "" && allowQuery {
		got = r.URL.Query().Get("token")
	}

	if got == "" {
		return errors.New("missing auth token").
			WithType(ErrTypeUnauthorized).
			WithTag("path", r.URL.Path)
	}

	if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		return errors.New("invalid auth token").
			WithType(ErrTypeUnauthorized).
			WithTag("path", r.URL.Path)
	}
	return nil
}

// GetTokenFromHTTPRequest returns the bearer token of the Authorization
// header.
func GetTokenFromHTTPRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
