package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/common"
)

func newBackend(t *testing.T, h http.HandlerFunc) *HTTPBackend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPBackend(srv.URL, "anon-key")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func params() models.SendParams {
	return models.SendParams{
		UserID:    "u1",
		Message:   "hello",
		CreatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		ClientID:  "6f1c1c1e-8f7a-4c43-9b1e-6c1d1b8b2f10",
	}
}

func TestFetch_SinceAndHeaders(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/chat_messages", r.URL.Path)
		assert.Equal(t, "2024-01-01T00:00:00.000000Z", r.URL.Query().Get("since"))
		assert.Equal(t, "anon-key", r.Header.Get(common.APIKeyHeaderName))
		assert.Equal(t, "Bearer tok", r.Header.Get(common.AuthorizationHeaderName))
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "client_id": "c1"}})
	})
	b.SetSession(&Session{AccessToken: "tok"})

	rows, err := b.Fetch(context.Background(), models.ResourceMessages, &since)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].String("id"))
	assert.Equal(t, "c1", rows[0].String("client_id"))
}

func TestFetch_NoSinceMeansAll(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, has := r.URL.Query()["since"]
		assert.False(t, has)
		writeJSON(w, http.StatusOK, []any{})
	})
	rows, err := b.Fetch(context.Background(), models.ResourceNews, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSendIdempotent_CreatedAndDuplicate(t *testing.T) {
	var calls atomic.Int32
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/send_chat_message", r.URL.Path)
		var body sendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2024-01-01T10:00:00.000000Z", body.CreatedAt)

		status := http.StatusCreated
		if calls.Add(1) > 1 {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]any{"id": "s1", "client_id": body.ClientID})
	})

	res, err := b.SendIdempotent(context.Background(), params())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	res, err = b.SendIdempotent(context.Background(), params())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "s1", res.Row.String("id"))
}

func TestSendIdempotent_ValidatesBeforeCalling(t *testing.T) {
	var called bool
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	p := params()
	p.ClientID = ""
	_, err := b.SendIdempotent(context.Background(), p)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.False(t, called)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"conflict", http.StatusConflict, apiError{Message: "dup"}, common.ErrDuplicate},
		{"pg unique code", http.StatusBadRequest, apiError{Code: "23505"}, common.ErrDuplicate},
		{"bad request", http.StatusBadRequest, apiError{Message: "bad"}, common.ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, nil, common.ErrValidation},
		{"forbidden", http.StatusForbidden, nil, common.ErrUnauthorized},
		{"server error", http.StatusServiceUnavailable, nil, common.ErrTransientNetwork},
		{"rate limited", http.StatusTooManyRequests, nil, common.ErrTransientNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})
			_, err := b.SendIdempotent(context.Background(), params())
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	b := NewHTTPBackend(srv.URL, "")

	_, err := b.Fetch(context.Background(), models.ResourceQuotes, nil)
	assert.ErrorIs(t, err, common.ErrTransientNetwork)
	assert.Error(t, b.Probe(context.Background()))
}

func TestTimeoutIsTransient(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Fetch(ctx, models.ResourceQuotes, nil)
	assert.ErrorIs(t, err, common.ErrTransientNetwork)
}

func TestLookups(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/chat_messages/lookup", r.URL.Path)
		q := r.URL.Query()
		switch {
		case q.Get("client_id") == "known":
			writeJSON(w, http.StatusOK, map[string]any{"id": "s1", "client_id": "known"})
		case q.Get("user_id") == "u1" && q.Get("created_at") == "2024-01-01T10:00:00.000000Z":
			writeJSON(w, http.StatusOK, map[string]any{"id": "s2"})
		default:
			writeJSON(w, http.StatusNotFound, apiError{Message: "no rows"})
		}
	})
	ctx := context.Background()

	row, err := b.LookupByClientID(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, "s1", row.String("id"))

	_, err = b.LookupByClientID(ctx, "unknown")
	assert.ErrorIs(t, err, common.ErrNotFound)

	row, err = b.LookupByCreatedAt(ctx, "u1", params().CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, "s2", row.String("id"))
}

func TestProbe(t *testing.T) {
	healthy := atomic.Bool{}
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthcheck.txt", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("t"))
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	assert.ErrorIs(t, b.Probe(context.Background()), common.ErrUnreachable)
	healthy.Store(true)
	assert.NoError(t, b.Probe(context.Background()))
}

func TestRefreshOnUnauthorized(t *testing.T) {
	var refreshed atomic.Int32
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			refreshed.Add(1)
			writeJSON(w, http.StatusOK, Session{AccessToken: "new", RefreshToken: "r2", UserID: "u1"})
		case "/rest/v1/news":
			if r.Header.Get(common.AuthorizationHeaderName) != "Bearer new" {
				writeJSON(w, http.StatusUnauthorized, apiError{Message: "jwt expired"})
				return
			}
			writeJSON(w, http.StatusOK, []any{})
		}
	})
	b.SetSession(&Session{AccessToken: "old", RefreshToken: "r1"})

	_, err := b.Fetch(context.Background(), models.ResourceNews, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, refreshed.Load())
	assert.Equal(t, "r2", b.Session().RefreshToken)
}

func TestUnauthorizedWithoutRefreshToken(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, apiError{Message: "no"})
	})
	_, err := b.Fetch(context.Background(), models.ResourceNews, nil)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestSignInSignOut(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			var c credentials
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&c))
			if c.Password != "secret" {
				writeJSON(w, http.StatusBadRequest, apiError{Message: "invalid login"})
				return
			}
			writeJSON(w, http.StatusOK, Session{UserID: "u1", Email: c.Email, AccessToken: "a", RefreshToken: "r"})
		case "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	_, err := b.SignIn(ctx, "a@b.c", "wrong")
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Nil(t, b.Session())

	s, err := b.SignIn(ctx, "a@b.c", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "a", b.Session().AccessToken)

	require.NoError(t, b.SignOut(ctx))
	assert.Nil(t, b.Session())
}

func TestRealtimeURL(t *testing.T) {
	assert.Equal(t, "wss://x.io/realtime/v1", NewHTTPBackend("https://x.io/", "").RealtimeURL())
	assert.Equal(t, "ws://127.0.0.1:8080/realtime/v1", NewHTTPBackend("http://127.0.0.1:8080", "").RealtimeURL())
}
