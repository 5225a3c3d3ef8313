// Package query serves resources from the backend when it is reachable and
// from the last cached snapshot when it is not.
//
// A successful fetch replaces the resource's snapshot wholesale; entries are
// never merged. A failed fetch never clears what is cached.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/balancesync/internal/client/events"
	"github.com/dmitrijs2005/balancesync/internal/client/metrics"
	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/client/reachability"
	"github.com/dmitrijs2005/balancesync/internal/client/repositories/snapshots"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

type Status int

const (
	// StatusLoading: no data yet, a fetch is running.
	StatusLoading Status = iota
	// StatusReady: Items holds a snapshot, possibly stale.
	StatusReady
	// StatusEmpty: nothing is cached and no fetch will run.
	StatusEmpty
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusEmpty:
		return "empty"
	}
	return "invalid"
}

// View is what a handle currently shows.
type View struct {
	Resource  models.Resource
	Status    Status
	Items     []models.Item
	UpdatedAt time.Time
	// Stale is set while a cached snapshot is shown and a fetch runs, and
	// after a fetch failed.
	Stale bool
	// Err is the last fetch error. It does not imply the view is empty.
	Err error
}

type Fetcher interface {
	Fetch(ctx context.Context, resource models.Resource, since *time.Time) ([]models.Row, error)
}

type Gate interface {
	Current() reachability.State
}

// Handle is a reactive result of Layer.Get.
type Handle struct {
	mu   sync.RWMutex
	view View
	bus  *events.Bus[View]
	done chan struct{}
}

func newHandle(v View) *Handle {
	return &Handle{view: v, bus: events.NewBus[View](), done: make(chan struct{})}
}

func (h *Handle) Current() View {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.view
}

// Subscribe is called when the pending fetch resolves.
func (h *Handle) Subscribe(fn func(View)) (unsubscribe func()) {
	return h.bus.Subscribe(fn)
}

// Done is closed once the handle will not change any more.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle is resolved and returns its final view.
func (h *Handle) Wait(ctx context.Context) (View, error) {
	select {
	case <-h.done:
		return h.Current(), nil
	case <-ctx.Done():
		return h.Current(), ctx.Err()
	}
}

func (h *Handle) resolve(v View) {
	h.mu.Lock()
	h.view = v
	h.mu.Unlock()
	h.bus.Publish(v)
	close(h.done)
}

type Layer struct {
	backend   Fetcher
	gate      Gate
	snapshots snapshots.Repository
	logger    logging.Logger
	now       func() time.Time

	mu     sync.RWMutex
	memory map[models.Resource]View

	flights singleflight.Group

	changes          *events.Bus[View]
	resubscribeEvery time.Duration
}

func New(backend Fetcher, gate Gate, snaps snapshots.Repository, logger logging.Logger) *Layer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Layer{
		backend:   backend,
		gate:      gate,
		snapshots: snaps,
		logger:    logger.With("component", "query"),
		now:       models.Now,
		memory:    make(map[models.Resource]View),

		changes:          events.NewBus[View](),
		resubscribeEvery: DefaultResubscribeEvery,
	}
}

func (l *Layer) decode(resource models.Resource, raw []byte, at time.Time) (View, error) {
	var rows []models.Row
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return View{}, fmt.Errorf("%w: decode snapshot %s: %w", common.ErrStorage, resource, err)
	}
	items, rejected := models.DecodeItems(resource, rows)
	if rejected > 0 {
		l.logger.Warn(context.Background(), "snapshot rows rejected", "resource", resource, "rejected", rejected)
	}
	return View{Resource: resource, Status: StatusReady, Items: items, UpdatedAt: at}, nil
}

// cached returns the last snapshot of resource from memory or the store.
func (l *Layer) cached(ctx context.Context, resource models.Resource) (View, bool) {
	l.mu.RLock()
	v, ok := l.memory[resource]
	l.mu.RUnlock()
	if ok {
		return v, true
	}

	snap, err := l.snapshots.Get(ctx, string(resource))
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			l.logger.Error(ctx, "read snapshot", "resource", resource, "error", err)
		}
		return View{}, false
	}
	v, err = l.decode(resource, snap.Value, snap.UpdatedAt)
	if err != nil {
		l.logger.Error(ctx, "decode snapshot", "resource", resource, "error", err)
		return View{}, false
	}
	l.remember(v)
	return v, true
}

func (l *Layer) remember(v View) {
	l.mu.Lock()
	l.memory[v.Resource] = v
	l.mu.Unlock()
}

// Get returns a handle for resource. While the backend is unreachable the
// handle is already resolved with the cached snapshot, or StatusEmpty when
// there is none. Otherwise it shows the cache (or StatusLoading) and
// resolves when the fetch completes.
func (l *Layer) Get(ctx context.Context, resource models.Resource) *Handle {
	cached, ok := l.cached(ctx, resource)

	if l.gate.Current().Status != reachability.OnlineReachable {
		v := View{Resource: resource, Status: StatusEmpty}
		if ok {
			v = cached
		}
		h := newHandle(v)
		close(h.done)
		return h
	}

	initial := View{Resource: resource, Status: StatusLoading}
	if ok {
		initial = cached
		initial.Stale = true
	}
	h := newHandle(initial)

	ch := l.flights.DoChan(string(resource), func() (any, error) {
		return l.fetch(ctx, resource)
	})
	go func() {
		res := <-ch
		if res.Err != nil {
			v := initial
			v.Err = res.Err
			if v.Status == StatusLoading {
				v.Status = StatusEmpty
			} else {
				v.Stale = true
			}
			h.resolve(v)
			return
		}
		h.resolve(res.Val.(View))
	}()
	return h
}

// fetch loads the whole resource and replaces its snapshot.
func (l *Layer) fetch(ctx context.Context, resource models.Resource) (View, error) {
	rows, err := l.backend.Fetch(ctx, resource, nil)
	metrics.CacheFetches.WithLabelValues(string(resource), metrics.Status(err)).Inc()
	if err != nil {
		l.logger.Warn(ctx, "fetch failed, serving cache", "resource", resource, "error", err)
		return View{}, err
	}
	if rows == nil {
		rows = []models.Row{}
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return View{}, fmt.Errorf("encode %s: %w", resource, err)
	}
	at := l.now()
	v, err := l.decode(resource, raw, at)
	if err != nil {
		return View{}, err
	}
	if err := l.snapshots.Put(ctx, &snapshots.Snapshot{Key: string(resource), Value: raw, UpdatedAt: at}); err != nil {
		// The fresh data is still served from memory.
		l.logger.Error(ctx, "store snapshot", "resource", resource, "error", err)
	}
	l.remember(v)
	return v, nil
}

// Prepopulate loads every stored snapshot into memory.
func (l *Layer) Prepopulate(ctx context.Context) error {
	all, err := l.snapshots.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range all {
		r, err := models.ParseResource(s.Key)
		if err != nil {
			l.logger.Debug(ctx, "unknown snapshot key", "key", s.Key)
			continue
		}
		v, err := l.decode(r, s.Value, s.UpdatedAt)
		if err != nil {
			l.logger.Warn(ctx, "skip snapshot", "key", s.Key, "error", err)
			continue
		}
		l.remember(v)
	}
	return nil
}

// Forget drops the in-memory views, e.g. after the store was wiped.
func (l *Layer) Forget() {
	l.mu.Lock()
	clear(l.memory)
	l.mu.Unlock()
}
