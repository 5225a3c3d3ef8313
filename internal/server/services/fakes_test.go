package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/dbx"
	"github.com/dmitrijs2005/balancesync/internal/server/config"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/messages"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/resources"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/users"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{SecretKey: "k", AccessTokenTTL: time.Hour, RefreshTokenTTL: 2 * time.Hour}
}

type fakeUsers struct {
	mu     sync.Mutex
	byMail map[string]*models.User
	err    error
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byMail: map[string]*models.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.byMail[u.Email]; ok {
		return nil, common.ErrDuplicate
	}
	u.ID = "u-" + u.Email
	f.byMail[u.Email] = u
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byMail[email]
	if !ok {
		return nil, common.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byMail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, common.ErrNotFound
}

type fakeTokens struct {
	mu        sync.Mutex
	tokens    map[string]*models.RefreshToken
	createErr error
	deleteErr error
}

func newFakeTokens() *fakeTokens { return &fakeTokens{tokens: map[string]*models.RefreshToken{}} }

func (f *fakeTokens) Create(_ context.Context, userID, token string, validity time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeTokens) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	return t, nil
}

func (f *fakeTokens) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeTokens) DeleteByUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.tokens {
		if t.Expires.Before(now) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

type fakeMessages struct {
	mu     sync.Mutex
	rows   map[string]*models.ChatMessage
	nextID int64
	err    error
}

func newFakeMessages() *fakeMessages { return &fakeMessages{rows: map[string]*models.ChatMessage{}} }

func (f *fakeMessages) Insert(_ context.Context, p models.SendParams) (*models.ChatMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	if m, ok := f.rows[p.ClientID]; ok {
		return m, false, nil
	}
	f.nextID++
	m := &models.ChatMessage{ID: f.nextID, ClientID: p.ClientID, UserID: p.UserID, Message: p.Message, CreatedAt: p.CreatedAt, UpdatedAt: p.CreatedAt}
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

func (f *fakeMessages) GetByClientID(_ context.Context, clientID string) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[clientID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return m, nil
}

func (f *fakeMessages) GetByCreatedAt(_ context.Context, userID string, createdAt time.Time) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.rows {
		if m.UserID == userID && m.CreatedAt.Equal(createdAt) {
			return m, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeMessages) Delete(_ context.Context, userID, clientID string) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[clientID]
	if !ok || m.UserID != userID {
		return nil, common.ErrNotFound
	}
	delete(f.rows, clientID)
	return m, nil
}

type fakeResources struct{}

func (fakeResources) Since(_ context.Context, table string, _ *time.Time) ([]json.RawMessage, error) {
	if !resources.Tables[table] {
		return nil, common.ErrNotFound
	}
	return []json.RawMessage{json.RawMessage(`{"id":1}`)}, nil
}

type fakeRepoManager struct {
	u *fakeUsers
	r *fakeTokens
	m *fakeMessages
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{u: newFakeUsers(), r: newFakeTokens(), m: newFakeMessages()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.r }
func (m *fakeRepoManager) Messages(dbx.DBTX) messages.Repository           { return m.m }
func (m *fakeRepoManager) Resources(dbx.DBTX) resources.Repository         { return fakeResources{} }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(ev models.ChangeEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) Events() []models.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ChangeEvent(nil), p.events...)
}
