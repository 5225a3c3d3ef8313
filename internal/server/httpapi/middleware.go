package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/server/auth"
)

type ctxKey string

const claimsKey ctxKey = "claims"

func claimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(common.APIKeyHeaderName)
		if key == "" {
			key = r.URL.Query().Get(common.APIKeyHeaderName)
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			status, body := classify(fmt.Errorf("%w: invalid api key", common.ErrUnauthorized))
			writeJSON(w, status, body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate attaches the bearer token's claims to the context. Requests
// without a token pass through anonymously; a bad token is rejected.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get(common.AuthorizationHeaderName)
		if hdr == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(hdr, "Bearer ")
		if !ok || token == "" {
			status, body := classify(fmt.Errorf("%w: malformed authorization header", common.ErrInvalidToken))
			writeJSON(w, status, body)
			return
		}
		claims, err := s.users.Authenticate(token)
		if err != nil {
			status, body := classify(err)
			writeJSON(w, status, body)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := claimsFrom(r.Context()); !ok {
			status, body := classify(fmt.Errorf("%w: sign in required", common.ErrUnauthorized))
			writeJSON(w, status, body)
			return
		}
		next.ServeHTTP(w, r)
	})
}
