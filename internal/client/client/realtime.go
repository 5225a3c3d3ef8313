package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

// WSRealtime subscribes to the websocket change feed. Each subscription
// holds its own connection.
type WSRealtime struct {
	url    string
	apiKey string
	token  func() string
	logger logging.Logger
}

// NewWSRealtime returns a subscriber for the feed at wsURL. token, when not
// nil, supplies the current access token for each new connection.
func NewWSRealtime(wsURL, apiKey string, token func() string, logger logging.Logger) *WSRealtime {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WSRealtime{url: wsURL, apiKey: apiKey, token: token, logger: logger.With("component", "realtime")}
}

// Subscribe dials the feed and runs handler on a reader goroutine. The
// subscription ends when the connection drops; Unsubscribe waits for the
// reader, so it must not be called from inside handler.
func (r *WSRealtime) Subscribe(ctx context.Context, resource models.Resource, handler func(models.ChangeEvent)) (*Subscription, error) {
	q := url.Values{"resource": {string(resource)}}
	if r.apiKey != "" {
		q.Set(common.APIKeyHeaderName, r.apiKey)
	}
	hdr := http.Header{}
	if r.token != nil {
		if tok := r.token(); tok != "" {
			hdr.Set(common.AuthorizationHeaderName, "Bearer "+tok)
		}
	}

	conn, _, err := websocket.Dial(ctx, r.url+"?"+q.Encode(), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", common.ErrTransientNetwork, resource, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	sub := NewSubscription(func() {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sub.End()
		for {
			var ev models.ChangeEvent
			if err := wsjson.Read(sctx, conn, &ev); err != nil {
				if sctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
					r.logger.Warn(sctx, "realtime feed closed", "resource", resource, "error", err)
				}
				return
			}
			if ev.Resource == "" {
				ev.Resource = resource
			}
			handler(ev)
		}
	}()
	return sub, nil
}
