package query

import (
	"context"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/client"
	"github.com/dmitrijs2005/balancesync/internal/client/metrics"
	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/client/reachability"
)

const DefaultResubscribeEvery = 30 * time.Second

// Notifier is a reachability source with change notifications.
type Notifier interface {
	Gate
	Subscribe(fn func(reachability.State)) (unsubscribe func())
}

// OnChange is called with the new view whenever a live refresh replaced a
// snapshot.
func (l *Layer) OnChange(fn func(View)) (unsubscribe func()) {
	return l.changes.Subscribe(fn)
}

type feed struct {
	sub    *client.Subscription
	cancel context.CancelFunc
}

func (f feed) close() {
	f.cancel()
	f.sub.Unsubscribe()
}

// Watch keeps the snapshots of resources live while the backend is
// reachable. Any change event for a resource triggers a refetch that
// replaces its snapshot; events are never applied to cached items. Feeds are
// dropped when reachability is lost and restored, with a refetch, when it
// returns. Watch blocks until ctx ends.
func (l *Layer) Watch(ctx context.Context, rt client.Realtime, states Notifier, resources ...models.Resource) error {
	transitions := make(chan struct{}, 1)
	unsub := states.Subscribe(func(reachability.State) {
		select {
		case transitions <- struct{}{}:
		default:
		}
	})
	defer unsub()

	changed := make(chan models.Resource, 16)
	feeds := make(map[models.Resource]feed, len(resources))
	defer func() {
		for _, f := range feeds {
			f.close()
		}
	}()

	ensure := func() {
		if states.Current().Status != reachability.OnlineReachable {
			for r, f := range feeds {
				f.close()
				delete(feeds, r)
			}
			return
		}
		for _, r := range resources {
			if f, ok := feeds[r]; ok {
				select {
				case <-f.sub.Done():
					f.close()
					delete(feeds, r)
					l.logger.Warn(ctx, "live feed lost", "resource", r)
				default:
					continue
				}
			}
			fctx, cancel := context.WithCancel(ctx)
			sub, err := rt.Subscribe(fctx, r, func(models.ChangeEvent) {
				select {
				case changed <- r:
				case <-fctx.Done():
				}
			})
			if err != nil {
				cancel()
				l.logger.Warn(ctx, "live subscribe failed", "resource", r, "error", err)
				continue
			}
			feeds[r] = feed{sub: sub, cancel: cancel}
			// Catch up on changes made while unsubscribed.
			l.refresh(ctx, r)
		}
	}

	ticker := time.NewTicker(l.resubscribeEvery)
	defer ticker.Stop()

	ensure()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-transitions:
			ensure()
		case <-ticker.C:
			ensure()
		case r := <-changed:
			metrics.RealtimeEvents.WithLabelValues(string(r), "refetch").Inc()
			if states.Current().Status == reachability.OnlineReachable {
				l.refresh(ctx, r)
			}
		}
	}
}

// refresh refetches resource and announces the replaced view. A failed
// fetch leaves the cache as it was.
func (l *Layer) refresh(ctx context.Context, resource models.Resource) {
	res, err, _ := l.flights.Do(string(resource), func() (any, error) {
		return l.fetch(ctx, resource)
	})
	if err != nil {
		return
	}
	l.changes.Publish(res.(View))
}
