package client

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
)

// SendResult is the outcome of an idempotent insert. Duplicate is set when
// the server already had a row for the client id and returned it instead.
type SendResult struct {
	Row       models.Row
	Duplicate bool
}

// Backend is the remote data service.
type Backend interface {
	// Fetch returns the rows of resource with updated_at strictly greater
	// than since, ordered by updated_at. A nil since returns every row.
	Fetch(ctx context.Context, resource models.Resource, since *time.Time) ([]models.Row, error)

	// SendIdempotent inserts a chat message keyed by p.ClientID.
	SendIdempotent(ctx context.Context, p models.SendParams) (*SendResult, error)

	// LookupByClientID returns the server row for clientID or
	// common.ErrNotFound.
	LookupByClientID(ctx context.Context, clientID string) (models.Row, error)

	// LookupByCreatedAt finds a row by owner and client creation time.
	LookupByCreatedAt(ctx context.Context, userID string, createdAt time.Time) (models.Row, error)

	// Probe performs the lightweight reachability request.
	Probe(ctx context.Context) error
}

// Realtime is the server change feed.
type Realtime interface {
	// Subscribe delivers change events for resource until the subscription
	// is closed, ctx ends or the server drops the feed.
	Subscribe(ctx context.Context, resource models.Resource, handler func(models.ChangeEvent)) (*Subscription, error)
}

// Subscription is one live change feed. Done is closed when the feed ends
// for any reason, including the server going away.
type Subscription struct {
	stop     func()
	done     chan struct{}
	endOnce  sync.Once
	stopOnce sync.Once
}

// NewSubscription wraps stop, which tears the feed down and waits for its
// reader.
func NewSubscription(stop func()) *Subscription {
	return &Subscription{stop: stop, done: make(chan struct{})}
}

func (s *Subscription) Done() <-chan struct{} { return s.done }

// End marks the feed as finished without tearing it down. Readers call it
// when the connection is lost.
func (s *Subscription) End() {
	s.endOnce.Do(func() { close(s.done) })
}

// Unsubscribe stops the feed. It is safe to call more than once but must not
// be called from inside the event handler.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
	s.End()
}

// Session is an authenticated identity.
type Session struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
}
