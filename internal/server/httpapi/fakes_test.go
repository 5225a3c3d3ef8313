package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/server/auth"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
	"github.com/dmitrijs2005/balancesync/internal/server/services"
)

var testSecret = []byte("test-secret")

const testAPIKey = "anon"

type fakeUsers struct {
	mu        sync.Mutex
	passwords map[string]string
	ids       map[string]string
	refresh   map[string]string
	signedOut []string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{passwords: map[string]string{}, ids: map[string]string{}, refresh: map[string]string{}}
}

func (f *fakeUsers) session(email string) (*services.Session, error) {
	id := f.ids[email]
	tok, err := auth.GenerateToken(id, email, testSecret, time.Hour)
	if err != nil {
		return nil, err
	}
	rt := uuid.NewString()
	f.refresh[rt] = email
	return &services.Session{UserID: id, Email: email, AccessToken: tok, RefreshToken: rt}, nil
}

func (f *fakeUsers) SignUp(_ context.Context, email string, password []byte) (*services.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.passwords[email]; ok {
		return nil, common.ErrDuplicate
	}
	if len(password) < 6 {
		return nil, common.ErrValidation
	}
	f.passwords[email] = string(password)
	f.ids[email] = uuid.NewString()
	return f.session(email)
}

func (f *fakeUsers) SignIn(_ context.Context, email string, password []byte) (*services.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.passwords[email]; !ok || p != string(password) {
		return nil, common.ErrUnauthorized
	}
	return f.session(email)
}

func (f *fakeUsers) Refresh(_ context.Context, token string) (*services.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.refresh[token]
	if !ok {
		return nil, common.ErrUnauthorized
	}
	delete(f.refresh, token)
	return f.session(email)
}

func (f *fakeUsers) SignOut(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut = append(f.signedOut, userID)
	return nil
}

func (f *fakeUsers) Authenticate(token string) (*auth.Claims, error) {
	return auth.ParseToken(token, testSecret)
}

type fakeMessages struct {
	mu     sync.Mutex
	rows   map[string]*models.ChatMessage
	nextID int64
}

func newFakeMessages() *fakeMessages { return &fakeMessages{rows: map[string]*models.ChatMessage{}} }

func (f *fakeMessages) Send(_ context.Context, callerID string, p models.SendParams) (*models.ChatMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Message == "" {
		return nil, false, common.ErrValidation
	}
	if p.UserID != callerID {
		return nil, false, common.ErrUnauthorized
	}
	if m, ok := f.rows[p.ClientID]; ok {
		return m, false, nil
	}
	f.nextID++
	m := &models.ChatMessage{ID: f.nextID, ClientID: p.ClientID, UserID: p.UserID, Message: p.Message, CreatedAt: p.CreatedAt, UpdatedAt: time.Now().UTC()}
	f.rows[p.ClientID] = m
	return m, true, nil
}

func (f *fakeMessages) Since(context.Context, *time.Time) ([]*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.ChatMessage, 0, len(f.rows))
	for _, m := range f.rows {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMessages) LookupByClientID(_ context.Context, clientID string) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[clientID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return m, nil
}

func (f *fakeMessages) LookupByCreatedAt(_ context.Context, userID string, createdAt time.Time) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.rows {
		if m.UserID == userID && m.CreatedAt.Equal(createdAt) {
			return m, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeMessages) Delete(_ context.Context, callerID, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[clientID]
	if !ok || m.UserID != callerID {
		return common.ErrNotFound
	}
	delete(f.rows, clientID)
	return nil
}

type fakeResources struct{}

func (fakeResources) Known(table string) bool {
	return table == "news" || table == "quotes" || table == "statistics"
}

func (fakeResources) Since(_ context.Context, table string, _ *time.Time) ([]json.RawMessage, error) {
	return []json.RawMessage{json.RawMessage(`{"id":1,"title":"` + table + `"}`)}, nil
}

type fakeFeed struct {
	mu       sync.Mutex
	resource []string
}

func (f *fakeFeed) Serve(w http.ResponseWriter, _ *http.Request, resource string) {
	f.mu.Lock()
	f.resource = append(f.resource, resource)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
