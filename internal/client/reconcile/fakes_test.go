package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/balancesync/internal/client/client"
	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/client/reachability"
	"github.com/dmitrijs2005/balancesync/internal/client/sender"
	"github.com/dmitrijs2005/balancesync/internal/client/store"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeServer keeps chat_messages rows keyed by client_id and behaves like
// the idempotent RPC.
type fakeServer struct {
	mu       sync.Mutex
	rows     map[string]models.Row
	seq      int
	sendErrs []error
	fetchErr error
	sends    int
	fetches  []*time.Time
}

func newServer() *fakeServer {
	return &fakeServer{rows: map[string]models.Row{}}
}

func (s *fakeServer) tick() time.Time {
	s.seq++
	return base.Add(time.Duration(s.seq) * time.Second)
}

// put stores a server-side row as another device would.
func (s *fakeServer) put(clientID, text string, updated time.Time) models.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	row := models.Row{
		"id":         fmt.Sprintf("srv-%s", clientID),
		"client_id":  clientID,
		"user_id":    "u2",
		"message":    text,
		"created_at": models.FormatTime(base),
		"updated_at": models.FormatTime(updated),
	}
	s.rows[clientID] = row
	return row
}

func (s *fakeServer) remove(clientID string) {
	s.mu.Lock()
	delete(s.rows, clientID)
	s.mu.Unlock()
}

func (s *fakeServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeServer) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *fakeServer) Fetch(_ context.Context, _ models.Resource, since *time.Time) ([]models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, since)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []models.Row
	for _, r := range s.rows {
		u, _ := models.ParseTime(r.String("updated_at"))
		if since == nil || u.After(*since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String("updated_at") < out[j].String("updated_at") })
	return out, nil
}

func (s *fakeServer) SendIdempotent(_ context.Context, p models.SendParams) (*client.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	if len(s.sendErrs) > 0 {
		err := s.sendErrs[0]
		s.sendErrs = s.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if r, ok := s.rows[p.ClientID]; ok {
		return &client.SendResult{Row: r, Duplicate: true}, nil
	}
	r := models.Row{
		"id":           fmt.Sprintf("srv-%s", p.ClientID),
		"client_id":    p.ClientID,
		"user_id":      p.UserID,
		"message":      p.Message,
		"created_at":   models.FormatTime(p.CreatedAt),
		"updated_at":   models.FormatTime(s.tick()),
		"author_email": "me@example.com",
	}
	s.rows[p.ClientID] = r
	return &client.SendResult{Row: r}, nil
}

func (s *fakeServer) LookupByClientID(_ context.Context, id string) (models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		return r, nil
	}
	return nil, common.ErrNotFound
}

func (s *fakeServer) LookupByCreatedAt(context.Context, string, time.Time) (models.Row, error) {
	return nil, common.ErrNotFound
}

func (s *fakeServer) Probe(context.Context) error { return nil }

// midFetchBackend runs during once, after the server rows are collected and
// before Fetch returns them.
type midFetchBackend struct {
	*fakeServer
	during func()
}

func (b *midFetchBackend) Fetch(ctx context.Context, r models.Resource, since *time.Time) ([]models.Row, error) {
	rows, err := b.fakeServer.Fetch(ctx, r, since)
	if b.during != nil {
		b.during()
		b.during = nil
	}
	return rows, err
}

// toggleProber answers probes according to up; hang makes it block until
// the probe context expires.
type toggleProber struct {
	up   atomic.Bool
	hang atomic.Bool
}

func (p *toggleProber) Probe(ctx context.Context) error {
	if p.hang.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if !p.up.Load() {
		return common.ErrUnreachable
	}
	return nil
}

// fakeRealtime records subscriptions and lets tests push events or drop
// the feed as a server would.
type fakeRealtime struct {
	mu      sync.Mutex
	handler func(models.ChangeEvent)
	sub     *client.Subscription
	active  bool
	subs    int
}

func (f *fakeRealtime) Subscribe(_ context.Context, _ models.Resource, h func(models.ChangeEvent)) (*client.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.active = true
	f.subs++
	var sub *client.Subscription
	sub = client.NewSubscription(func() {
		f.mu.Lock()
		if f.sub == sub {
			f.active = false
		}
		f.mu.Unlock()
	})
	f.sub = sub
	return sub, nil
}

// drop ends the current feed from the server side.
func (f *fakeRealtime) drop() {
	f.mu.Lock()
	f.active = false
	sub := f.sub
	f.mu.Unlock()
	sub.End()
}

func (f *fakeRealtime) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

func (f *fakeRealtime) isActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRealtime) push(ev models.ChangeEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

type harness struct {
	e     *Engine
	st    *store.Store
	srv   *fakeServer
	mon   *reachability.Monitor
	probe *toggleProber
	rt    *fakeRealtime
}

func noSleep(context.Context, time.Duration) error { return nil }

func setup(t *testing.T, online bool, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{st: st, srv: newServer(), probe: &toggleProber{}, rt: &fakeRealtime{}}
	h.probe.up.Store(true)
	h.mon = reachability.NewMonitor(h.probe, reachability.WithTimeout(50*time.Millisecond))
	if online {
		h.mon.Check(ctx)
	} else {
		h.mon.SetConnectivity(ctx, false)
	}

	opts = append([]Option{
		WithSender(sender.New(h.srv, sender.WithSleep(noSleep))),
		WithRealtime(h.rt),
	}, opts...)
	h.e = New(st, h.srv, h.mon, opts...)
	require.NoError(t, h.e.SetUser(ctx, "u1"))
	return h
}

func (h *harness) message(t *testing.T, clientID string) *models.Message {
	t.Helper()
	m, err := h.st.Messages.GetByClientID(context.Background(), clientID)
	require.NoError(t, err)
	return m
}
