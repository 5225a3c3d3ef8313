package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/client"
	"github.com/dmitrijs2005/balancesync/internal/client/events"
	"github.com/dmitrijs2005/balancesync/internal/client/metrics"
	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/client/reachability"
	"github.com/dmitrijs2005/balancesync/internal/client/repositories/messages"
	"github.com/dmitrijs2005/balancesync/internal/client/repositories/settings"
	"github.com/dmitrijs2005/balancesync/internal/client/sender"
	"github.com/dmitrijs2005/balancesync/internal/client/store"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

// Gate is the read side of the reachability monitor.
type Gate interface {
	Current() reachability.State
	Subscribe(fn func(reachability.State)) (unsubscribe func())
}

const (
	dedupLimit = 100

	DefaultInterval      = time.Minute
	DefaultFullSyncEvery = 24 * time.Hour
)

type Engine struct {
	store    *store.Store
	backend  client.Backend
	realtime client.Realtime
	gate     Gate
	sender   *sender.Sender
	logger   logging.Logger

	interval      time.Duration
	fullSyncEvery time.Duration
	now           func() time.Time

	notifications *events.Bus[Notification]
	changes       *events.Bus[models.Resource]

	pullMu  sync.Mutex
	flushMu sync.Mutex

	syncReq  chan struct{}
	incoming chan models.ChangeEvent

	dedupMu sync.Mutex
	dedup   map[string]struct{}

	// rejected holds client ids the server refused; the automatic flush
	// leaves them alone until Resend.
	rejectedMu sync.Mutex
	rejected   map[string]struct{}

	rtMu     sync.Mutex
	rtSub    *client.Subscription
	rtCancel context.CancelFunc
}

type Option func(*Engine)

func WithRealtime(r client.Realtime) Option    { return func(e *Engine) { e.realtime = r } }
func WithSender(s *sender.Sender) Option       { return func(e *Engine) { e.sender = s } }
func WithLogger(l logging.Logger) Option       { return func(e *Engine) { e.logger = l } }
func WithInterval(d time.Duration) Option      { return func(e *Engine) { e.interval = d } }
func WithFullSyncEvery(d time.Duration) Option { return func(e *Engine) { e.fullSyncEvery = d } }
func WithClock(now func() time.Time) Option    { return func(e *Engine) { e.now = now } }

func New(st *store.Store, backend client.Backend, gate Gate, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		backend:       backend,
		gate:          gate,
		logger:        logging.Discard(),
		interval:      DefaultInterval,
		fullSyncEvery: DefaultFullSyncEvery,
		now:           models.Now,
		notifications: events.NewBus[Notification](),
		changes:       events.NewBus[models.Resource](),
		syncReq:       make(chan struct{}, 1),
		incoming:      make(chan models.ChangeEvent, 64),
		dedup:         make(map[string]struct{}),
		rejected:      make(map[string]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.sender == nil {
		e.sender = sender.New(backend, sender.WithLogger(e.logger))
	}
	e.logger = e.logger.With("component", "reconcile")
	return e
}

// Notifications subscribes to send and sync notifications.
func (e *Engine) Notifications(fn func(Notification)) (unsubscribe func()) {
	return e.notifications.Subscribe(fn)
}

// OnChange subscribes to local data changes per resource.
func (e *Engine) OnChange(fn func(models.Resource)) (unsubscribe func()) {
	return e.changes.Subscribe(fn)
}

func (e *Engine) reachable() bool {
	return e.gate.Current().Status == reachability.OnlineReachable
}

func (e *Engine) changed(r models.Resource) {
	e.changes.Publish(r)
	e.refreshPendingGauge(context.Background())
}

func (e *Engine) refreshPendingGauge(ctx context.Context) {
	if p, err := e.store.Messages.GetAllPending(ctx); err == nil {
		metrics.PendingMessages.Set(float64(len(p)))
	}
}

// SetUser records the signed-in user id used as owner of new messages.
func (e *Engine) SetUser(ctx context.Context, userID string) error {
	return e.store.Settings.Set(ctx, settings.KeyUserID, []byte(userID))
}

func (e *Engine) userID(ctx context.Context) (string, error) {
	v, err := e.store.Settings.Get(ctx, settings.KeyUserID)
	if err != nil {
		return "", err
	}
	if len(v) == 0 {
		return "", fmt.Errorf("%w: no signed-in user", common.ErrUnauthorized)
	}
	return string(v), nil
}

// Messages returns the local messages in creation order, pending included.
func (e *Engine) Messages(ctx context.Context) ([]*models.Message, error) {
	return e.store.Messages.GetAll(ctx)
}

// Send stores text as a new pending message and, when the backend is
// reachable, delivers it. The returned message reflects the local row after
// delivery; a failed delivery is not an error and leaves it pending.
func (e *Engine) Send(ctx context.Context, text string) (*models.Message, error) {
	userID, err := e.userID(ctx)
	if err != nil {
		return nil, err
	}
	m := &models.Message{
		ClientID:  models.NewClientID(),
		UserID:    userID,
		Message:   text,
		CreatedAt: e.now(),
		Pending:   true,
	}
	if err := m.SendParams().Validate(); err != nil {
		return nil, err
	}
	if _, err := e.store.Messages.Put(ctx, m); err != nil {
		e.logger.Error(ctx, "store pending message", "client_id", m.ClientID, "error", err)
		return nil, err
	}
	e.changed(models.ResourceMessages)

	if e.reachable() {
		_ = e.deliver(ctx, m)
	}
	return e.store.Messages.GetByClientID(ctx, m.ClientID)
}

// Resend delivers one pending message by client id.
func (e *Engine) Resend(ctx context.Context, clientID string) error {
	m, err := e.store.Messages.GetByClientID(ctx, clientID)
	if err != nil {
		return err
	}
	if !m.Pending {
		return nil
	}
	if !e.reachable() {
		return common.ErrUnreachable
	}
	e.setRejected(clientID, false)
	return e.deliver(ctx, m)
}

func (e *Engine) setRejected(clientID string, rejected bool) {
	e.rejectedMu.Lock()
	defer e.rejectedMu.Unlock()
	if rejected {
		e.rejected[clientID] = struct{}{}
	} else {
		delete(e.rejected, clientID)
	}
}

func (e *Engine) isRejected(clientID string) bool {
	e.rejectedMu.Lock()
	defer e.rejectedMu.Unlock()
	_, ok := e.rejected[clientID]
	return ok
}

// deliver runs the send protocol for a pending row and confirms it locally.
func (e *Engine) deliver(ctx context.Context, m *models.Message) error {
	res, err := e.sender.Send(ctx, m.SendParams())
	if errors.Is(err, sender.ErrInFlight) {
		return err
	}
	if err != nil {
		var se *sender.SendError
		if errors.As(err, &se) && se.Phase == sender.Rejected {
			e.setRejected(m.ClientID, true)
		}
		e.logger.Warn(ctx, "message left pending", "client_id", m.ClientID, "error", err)
		e.notifications.Publish(Notification{Kind: SendFailed, Resource: models.ResourceMessages, ClientID: m.ClientID, Message: m, Err: err})
		return err
	}

	ok, err := e.store.Messages.Confirm(ctx, m.ClientID, res.Message)
	if err != nil {
		e.logger.Error(ctx, "confirm sent message", "client_id", m.ClientID, "error", err)
		return err
	}
	if !ok {
		// Already confirmed by another path; apply the server row normally.
		if _, err := e.store.Messages.MergeRemote(ctx, res.Message); err != nil {
			return err
		}
	}

	e.logger.Debug(ctx, "message confirmed", "client_id", m.ClientID, "server_id", res.Message.ServerID, "duplicate", res.Duplicate)
	confirmed, _ := e.store.Messages.GetByClientID(ctx, m.ClientID)
	e.notifications.Publish(Notification{Kind: MessageSent, Resource: models.ResourceMessages, ClientID: m.ClientID, Message: confirmed})
	e.changed(models.ResourceMessages)
	return nil
}

// FlushPending sends every pending message in creation order. Messages the
// server rejected are skipped until resent explicitly. Concurrent calls
// coalesce: a call made while a flush runs returns immediately.
func (e *Engine) FlushPending(ctx context.Context) (FlushReport, error) {
	var rep FlushReport
	if !e.reachable() {
		return rep, common.ErrUnreachable
	}
	if !e.flushMu.TryLock() {
		return rep, nil
	}
	defer e.flushMu.Unlock()

	pending, err := e.store.Messages.GetAllPending(ctx)
	if err != nil {
		return rep, err
	}

	for i, m := range pending {
		if ctx.Err() != nil || !e.reachable() {
			rep.Deferred += len(pending) - i
			break
		}
		if e.isRejected(m.ClientID) {
			rep.Skipped++
			continue
		}
		switch err := e.deliver(ctx, m); {
		case err == nil:
			rep.Sent++
		case errors.Is(err, sender.ErrInFlight):
			rep.Deferred++
		default:
			rep.Failed++
		}
	}
	if len(pending) > 0 {
		e.logger.Info(ctx, "pending flushed", "sent", rep.Sent, "failed", rep.Failed,
			"deferred", rep.Deferred, "skipped", rep.Skipped)
	}
	return rep, nil
}

func checkResource(r models.Resource) error {
	if r != models.ResourceMessages {
		return fmt.Errorf("%w: %s has no local record store", common.ErrValidation, r)
	}
	return nil
}

// coerceRows types fetched rows, dropping invalid ones.
func (e *Engine) coerceRows(ctx context.Context, rows []models.Row, rep *PullReport) []*models.Message {
	out := make([]*models.Message, 0, len(rows))
	for _, row := range rows {
		m, err := models.CoerceMessage(row)
		if err != nil {
			rep.Rejected++
			e.logger.Warn(ctx, "row rejected", "id", row.String("id"), "error", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (e *Engine) merge(ctx context.Context, resource models.Resource, ms []*models.Message, rep *PullReport) (time.Time, error) {
	var maxUpdated time.Time
	for _, m := range ms {
		res, err := e.store.Messages.MergeRemote(ctx, m)
		if err != nil {
			return time.Time{}, err
		}
		metrics.MergedRows.WithLabelValues(string(resource), res.String()).Inc()
		switch res {
		case messages.Inserted:
			rep.Inserted++
		case messages.Updated:
			rep.Updated++
		case messages.SkippedPending:
			rep.Skipped++
		}
		if m.UpdatedAt.After(maxUpdated) {
			maxUpdated = m.UpdatedAt
		}
	}
	return maxUpdated, nil
}

// Pull fetches rows newer than the watermark and merges them.
func (e *Engine) Pull(ctx context.Context, resource models.Resource) (PullReport, error) {
	var rep PullReport
	if err := checkResource(resource); err != nil {
		return rep, err
	}
	if !e.reachable() {
		return rep, common.ErrUnreachable
	}
	e.pullMu.Lock()
	defer e.pullMu.Unlock()

	rep, err := e.pull(ctx, resource)
	metrics.PullsTotal.WithLabelValues(string(resource), metrics.Status(err)).Inc()
	if err != nil {
		e.logger.Error(ctx, "pull failed, watermark kept", "resource", resource, "error", err)
		e.notifications.Publish(Notification{Kind: PullFailed, Resource: resource, Err: err})
		return rep, err
	}
	if rep.Changed() {
		e.changed(resource)
	}
	return rep, nil
}

func (e *Engine) pull(ctx context.Context, resource models.Resource) (PullReport, error) {
	var rep PullReport
	wm, ok, err := e.store.Watermarks.Get(ctx, resource)
	if err != nil {
		return rep, err
	}
	var since *time.Time
	if ok {
		since = &wm
	}

	rows, err := e.backend.Fetch(ctx, resource, since)
	if err != nil {
		return rep, err
	}
	rep.Fetched = len(rows)

	maxUpdated, err := e.merge(ctx, resource, e.coerceRows(ctx, rows, &rep), &rep)
	if err != nil {
		return rep, err
	}
	if err := e.store.Watermarks.Advance(ctx, resource, maxUpdated); err != nil {
		return rep, err
	}
	e.logger.Debug(ctx, "pull complete", "resource", resource, "fetched", rep.Fetched,
		"inserted", rep.Inserted, "updated", rep.Updated, "skipped", rep.Skipped)
	return rep, nil
}

// FullSync reconciles the whole resource: confirmed local rows missing on
// the server are deleted, server rows are merged.
func (e *Engine) FullSync(ctx context.Context, resource models.Resource) (PullReport, error) {
	var rep PullReport
	if err := checkResource(resource); err != nil {
		return rep, err
	}
	if !e.reachable() {
		return rep, common.ErrUnreachable
	}
	e.pullMu.Lock()
	defer e.pullMu.Unlock()

	rep, err := e.fullSync(ctx, resource)
	metrics.PullsTotal.WithLabelValues(string(resource), metrics.Status(err)).Inc()
	if err != nil {
		e.logger.Error(ctx, "full sync failed", "resource", resource, "error", err)
		e.notifications.Publish(Notification{Kind: PullFailed, Resource: resource, Err: err})
		return rep, err
	}
	if rep.Changed() {
		e.changed(resource)
	}
	return rep, nil
}

func (e *Engine) fullSync(ctx context.Context, resource models.Resource) (PullReport, error) {
	var rep PullReport
	// Only rows confirmed before the fetch may be tombstoned: a send that
	// completes during the fetch is missing from the snapshot.
	local, err := e.store.Messages.ListConfirmed(ctx)
	if err != nil {
		return rep, err
	}

	rows, err := e.backend.Fetch(ctx, resource, nil)
	if err != nil {
		return rep, err
	}
	rep.Fetched = len(rows)
	remote := e.coerceRows(ctx, rows, &rep)

	onServer := make(map[string]struct{}, len(remote))
	for _, m := range remote {
		onServer[m.ClientID] = struct{}{}
	}
	// A rejected row still exists on the server; do not delete its local copy.
	for _, row := range rows {
		if id := row.String("client_id"); id != "" {
			onServer[id] = struct{}{}
		}
	}

	var gone []int64
	for clientID, handle := range local {
		if _, ok := onServer[clientID]; !ok {
			gone = append(gone, handle)
		}
	}
	n, err := e.store.Messages.BulkDelete(ctx, gone)
	if err != nil {
		return rep, err
	}
	rep.Deleted = int(n)

	maxUpdated, err := e.merge(ctx, resource, remote, &rep)
	if err != nil {
		return rep, err
	}
	if err := e.store.Watermarks.Advance(ctx, resource, maxUpdated); err != nil {
		return rep, err
	}
	if err := e.store.Settings.Set(ctx, settings.KeyLastFullSync, []byte(models.FormatTime(e.now()))); err != nil {
		return rep, err
	}
	e.logger.Info(ctx, "full sync complete", "resource", resource, "fetched", rep.Fetched,
		"inserted", rep.Inserted, "updated", rep.Updated, "deleted", rep.Deleted)
	return rep, nil
}

// seen reports whether key was already applied.
func (e *Engine) seen(key string) bool {
	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	_, ok := e.dedup[key]
	return ok
}

// remember records an applied key. The set is emptied once it grows past
// dedupLimit.
func (e *Engine) remember(key string) {
	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()
	if len(e.dedup) >= dedupLimit {
		clear(e.dedup)
	}
	e.dedup[key] = struct{}{}
}

// ApplyEvent merges one realtime change. The watermark is not advanced:
// events may arrive with gaps that only a pull can fill.
func (e *Engine) ApplyEvent(ctx context.Context, ev models.ChangeEvent) error {
	if ev.Resource != models.ResourceMessages {
		metrics.RealtimeEvents.WithLabelValues(string(ev.Resource), "ignored").Inc()
		return nil
	}
	key := ev.DedupKey()
	if e.seen(key) {
		metrics.RealtimeEvents.WithLabelValues(string(ev.Resource), "duplicate").Inc()
		return nil
	}

	var (
		changed bool
		err     error
	)
	switch ev.Type {
	case models.EventInsert, models.EventUpdate:
		changed, err = e.applyUpsert(ctx, ev)
	case models.EventDelete:
		changed, err = e.applyDelete(ctx, ev)
	default:
		err = fmt.Errorf("%w: unknown event type %q", common.ErrValidation, ev.Type)
	}

	result := "ok"
	if err != nil {
		result = "error"
		e.logger.Warn(ctx, "realtime event not applied", "type", ev.Type, "error", err)
	} else {
		e.remember(key)
	}
	metrics.RealtimeEvents.WithLabelValues(string(ev.Resource), result).Inc()
	if changed {
		e.changed(ev.Resource)
	}
	return err
}

func (e *Engine) applyUpsert(ctx context.Context, ev models.ChangeEvent) (bool, error) {
	m, err := models.CoerceMessage(ev.Row)
	if err != nil {
		return false, err
	}
	res, err := e.store.Messages.MergeRemote(ctx, m)
	if err != nil {
		return false, err
	}
	return res == messages.Inserted || res == messages.Updated, nil
}

func (e *Engine) applyDelete(ctx context.Context, ev models.ChangeEvent) (bool, error) {
	old := ev.Old
	if old == nil {
		old = ev.Row
	}
	if clientID := old.String("client_id"); clientID != "" {
		m, err := e.store.Messages.GetByClientID(ctx, clientID)
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if m.Pending {
			return false, nil
		}
		n, err := e.store.Messages.BulkDelete(ctx, []int64{m.Handle})
		return n > 0, err
	}
	return e.store.Messages.DeleteByServerID(ctx, old.String("id"))
}

// DeleteOlderThan removes confirmed messages created before cutoff.
func (e *Engine) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	handles, err := e.store.Messages.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := e.store.Messages.BulkDelete(ctx, handles)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info(ctx, "old messages removed", "count", n, "cutoff", models.FormatTime(cutoff))
		e.changed(models.ResourceMessages)
	}
	return n, nil
}

// RequestSync asks the run loop for a sync cycle. Requests made while one
// is queued are merged.
func (e *Engine) RequestSync() {
	select {
	case e.syncReq <- struct{}{}:
	default:
	}
}

func (e *Engine) fullSyncDue(ctx context.Context) bool {
	v, err := e.store.Settings.Get(ctx, settings.KeyLastFullSync)
	if err != nil || len(v) == 0 {
		return true
	}
	last, err := models.ParseTime(string(v))
	if err != nil {
		return true
	}
	return e.now().Sub(last) >= e.fullSyncEvery
}

// Sync runs one cycle: flush pending messages, then pull (or a full sync
// when one is due).
func (e *Engine) Sync(ctx context.Context) error {
	if !e.reachable() {
		return common.ErrUnreachable
	}
	if _, err := e.FlushPending(ctx); err != nil {
		return err
	}

	var err error
	if e.fullSyncDue(ctx) {
		_, err = e.FullSync(ctx, models.ResourceMessages)
	} else {
		_, err = e.Pull(ctx, models.ResourceMessages)
	}
	if err != nil {
		return err
	}
	if err := e.store.Settings.Set(ctx, settings.KeyLastChatSync, []byte(models.FormatTime(e.now()))); err != nil {
		return err
	}
	e.notifications.Publish(Notification{Kind: SyncCompleted, Resource: models.ResourceMessages})
	return nil
}

// LastSync returns the time of the last completed sync cycle.
func (e *Engine) LastSync(ctx context.Context) (time.Time, error) {
	v, err := e.store.Settings.Get(ctx, settings.KeyLastChatSync)
	if err != nil || len(v) == 0 {
		return time.Time{}, err
	}
	return models.ParseTime(string(v))
}

// Logout drops the realtime subscription and wipes the local store.
func (e *Engine) Logout(ctx context.Context) error {
	e.stopRealtime()
	e.dedupMu.Lock()
	clear(e.dedup)
	e.dedupMu.Unlock()
	e.rejectedMu.Lock()
	clear(e.rejected)
	e.rejectedMu.Unlock()

	if err := e.store.Wipe(ctx); err != nil {
		return err
	}
	for _, r := range models.Resources {
		e.changes.Publish(r)
	}
	metrics.PendingMessages.Set(0)
	return nil
}

func (e *Engine) startRealtime(ctx context.Context) {
	if e.realtime == nil {
		return
	}
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	if e.rtSub != nil {
		return
	}
	// The handler must give up once unsubscribed, or stopRealtime would
	// wait on a reader blocked on a full queue.
	subCtx, cancel := context.WithCancel(ctx)
	sub, err := e.realtime.Subscribe(subCtx, models.ResourceMessages, func(ev models.ChangeEvent) {
		select {
		case e.incoming <- ev:
		case <-subCtx.Done():
		}
	})
	if err != nil {
		cancel()
		e.logger.Warn(ctx, "realtime subscribe failed", "error", err)
		return
	}
	e.rtSub, e.rtCancel = sub, cancel
	go e.watchRealtime(ctx, sub)
	e.logger.Debug(ctx, "realtime subscribed")
}

// watchRealtime forgets a subscription the server dropped so the next cycle
// subscribes again.
func (e *Engine) watchRealtime(ctx context.Context, sub *client.Subscription) {
	<-sub.Done()
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	if e.rtSub != sub {
		return
	}
	e.rtCancel()
	sub.Unsubscribe()
	e.rtSub, e.rtCancel = nil, nil
	if ctx.Err() == nil {
		e.logger.Warn(ctx, "realtime feed lost, resubscribing on next cycle")
	}
}

func (e *Engine) stopRealtime() {
	e.rtMu.Lock()
	sub, cancel := e.rtSub, e.rtCancel
	e.rtSub, e.rtCancel = nil, nil
	e.rtMu.Unlock()
	if sub != nil {
		cancel()
		sub.Unsubscribe()
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	if !e.reachable() {
		return
	}
	e.startRealtime(ctx)
	if err := e.Sync(ctx); err != nil && !errors.Is(err, common.ErrUnreachable) {
		e.logger.Warn(ctx, "sync cycle incomplete", "error", err)
	}
}

// Run drives reconciliation until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	transitions := make(chan reachability.State, 8)
	unsub := e.gate.Subscribe(func(s reachability.State) {
		select {
		case transitions <- s:
		default:
		}
	})
	defer unsub()
	defer e.stopRealtime()

	e.refreshPendingGauge(ctx)
	if e.reachable() {
		e.runCycle(ctx)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-transitions:
			if s.Status == reachability.OnlineReachable {
				e.runCycle(ctx)
			} else {
				e.stopRealtime()
			}
		case <-e.syncReq:
			e.runCycle(ctx)
		case <-ticker.C:
			e.runCycle(ctx)
		case ev := <-e.incoming:
			if e.reachable() {
				_ = e.ApplyEvent(ctx, ev)
			}
		}
	}
}
