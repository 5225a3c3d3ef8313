package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/client/query"
	"github.com/dmitrijs2005/balancesync/internal/client/reachability"
	"github.com/dmitrijs2005/balancesync/internal/common"
)

// Engine is the subset of the reconciliation engine the chat service uses.
type Engine interface {
	Messages(ctx context.Context) ([]*models.Message, error)
	Send(ctx context.Context, text string) (*models.Message, error)
	Resend(ctx context.Context, clientID string) error
	Sync(ctx context.Context) error
	LastSync(ctx context.Context) (time.Time, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Monitor is the reachability monitor as seen by the chat service.
type Monitor interface {
	Current() reachability.State
	Check(ctx context.Context) reachability.State
}

// Feeds serves cache-backed resources.
type Feeds interface {
	Get(ctx context.Context, resource models.Resource) *query.Handle
}

// Status is a snapshot of the client's sync state.
type Status struct {
	Reachability reachability.State
	Total        int
	Pending      int
	LastSync     time.Time
}

type ChatService interface {
	Send(ctx context.Context, text string) (*models.Message, error)
	List(ctx context.Context) ([]*models.Message, error)
	Resend(ctx context.Context, clientID string) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Feed(ctx context.Context, resource models.Resource) *query.Handle
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

type chatService struct {
	engine  Engine
	monitor Monitor
	feeds   Feeds
	now     func() time.Time
}

func NewChatService(engine Engine, monitor Monitor, feeds Feeds) ChatService {
	return &chatService{engine: engine, monitor: monitor, feeds: feeds, now: models.Now}
}

func (s *chatService) Send(ctx context.Context, text string) (*models.Message, error) {
	return s.engine.Send(ctx, text)
}

func (s *chatService) List(ctx context.Context) ([]*models.Message, error) {
	return s.engine.Messages(ctx)
}

func (s *chatService) Resend(ctx context.Context, clientID string) error {
	s.ensureChecked(ctx)
	return s.engine.Resend(ctx, clientID)
}

// Sync re-probes first when the last known state is not reachable, so an
// explicit request is not refused on stale information.
func (s *chatService) Sync(ctx context.Context) error {
	if s.ensureChecked(ctx).Status != reachability.OnlineReachable {
		return common.ErrUnreachable
	}
	return s.engine.Sync(ctx)
}

func (s *chatService) ensureChecked(ctx context.Context) reachability.State {
	st := s.monitor.Current()
	if st.IsOnline && !st.IsReachable {
		return s.monitor.Check(ctx)
	}
	return st
}

func (s *chatService) Status(ctx context.Context) (Status, error) {
	st := Status{Reachability: s.monitor.Current()}

	msgs, err := s.engine.Messages(ctx)
	if err != nil {
		return st, err
	}
	st.Total = len(msgs)
	for _, m := range msgs {
		if m.Pending {
			st.Pending++
		}
	}

	st.LastSync, err = s.engine.LastSync(ctx)
	return st, err
}

func (s *chatService) Feed(ctx context.Context, resource models.Resource) *query.Handle {
	return s.feeds.Get(ctx, resource)
}

// Cleanup removes confirmed messages created more than olderThan ago.
func (s *chatService) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.engine.DeleteOlderThan(ctx, s.now().Add(-olderThan))
}
