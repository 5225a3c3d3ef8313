package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/balancesync/internal/logging"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/resources"
)

// FeedChannel is the NOTIFY channel the feed table triggers write to.
const FeedChannel = "feed_changes"

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Publisher receives decoded change events.
type Publisher interface {
	Publish(ev models.ChangeEvent)
}

type notificationSource interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener forwards PostgreSQL notifications about the feed tables to a
// Publisher. It holds one dedicated connection outside the pool and
// reconnects with backoff when it is lost.
type Listener struct {
	connect   func(ctx context.Context) (notificationSource, error)
	publisher Publisher
	logger    logging.Logger

	minDelay, maxDelay time.Duration
}

func NewListener(dsn string, publisher Publisher, logger logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Listener{
		connect: func(ctx context.Context) (notificationSource, error) {
			conn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return nil, err
			}
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{FeedChannel}.Sanitize()); err != nil {
				_ = conn.Close(ctx)
				return nil, err
			}
			return conn, nil
		},
		publisher: publisher,
		logger:    logger.With("component", "feed-listener"),
		minDelay:  minReconnectDelay,
		maxDelay:  maxReconnectDelay,
	}
}

// Run listens until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	delay := l.minDelay
	for {
		src, err := l.connect(ctx)
		if err == nil {
			l.logger.Info(ctx, "listening for feed changes", "channel", FeedChannel)
			delay = l.minDelay
			err = l.listen(ctx, src)
			_ = src.Close(context.Background())
		}
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn(ctx, "feed listener disconnected", "error", err, "retry_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		delay = min(delay*2, l.maxDelay)
	}
}

func (l *Listener) listen(ctx context.Context, src notificationSource) error {
	for {
		n, err := src.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Channel != FeedChannel {
			continue
		}
		ev, err := decodeNotification(n.Payload)
		if err != nil {
			l.logger.Warn(ctx, "bad feed notification", "error", err)
			continue
		}
		l.publisher.Publish(ev)
	}
}

var errUnknownTable = errors.New("unknown table")

func decodeNotification(payload string) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode notification: %w", err)
	}
	if !resources.Tables[ev.Table] {
		return ev, fmt.Errorf("%w: %q", errUnknownTable, ev.Table)
	}
	switch ev.Type {
	case models.EventInsert, models.EventUpdate, models.EventDelete:
	default:
		return ev, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}
