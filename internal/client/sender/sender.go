// Package sender implements the idempotent send protocol: a message is
// sent under its client id with bounded retries, and a uniqueness conflict
// is resolved by looking the existing row up instead of failing.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/client"
	"github.com/dmitrijs2005/balancesync/internal/client/metrics"
	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

// ErrInFlight is returned when a send for the same client id is running.
var ErrInFlight = errors.New("send already in flight")

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// SendError is returned when the protocol ends without a server row.
type SendError struct {
	ClientID string
	Attempts int
	Phase    Phase
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s %s after %d attempt(s): %v", e.ClientID, e.Phase, e.Attempts, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Result is a confirmed send.
type Result struct {
	// Message is the server row; Pending is false.
	Message   *models.Message
	Duplicate bool
	Attempts  int
}

type Sender struct {
	backend     client.Backend
	inflight    *InFlight
	maxAttempts int
	baseDelay   time.Duration
	logger      logging.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Sender)

func WithMaxAttempts(n int) Option         { return func(s *Sender) { s.maxAttempts = n } }
func WithBaseDelay(d time.Duration) Option { return func(s *Sender) { s.baseDelay = d } }
func WithLogger(l logging.Logger) Option   { return func(s *Sender) { s.logger = l } }
func WithInFlight(f *InFlight) Option      { return func(s *Sender) { s.inflight = f } }
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Sender) { s.sleep = fn }
}

func New(backend client.Backend, opts ...Option) *Sender {
	s := &Sender{
		backend:     backend,
		inflight:    NewInFlight(),
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      logging.Discard(),
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "sender")
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight exposes the marker set shared with callers that need to know
// whether a record is being sent.
func (s *Sender) InFlight() *InFlight { return s.inflight }

// Send runs the protocol for p. It returns ErrInFlight without calling the
// backend when the same client id is already being sent.
func (s *Sender) Send(ctx context.Context, p models.SendParams) (*Result, error) {
	if err := p.Validate(); err != nil {
		metrics.SendsTotal.WithLabelValues("rejected").Inc()
		return nil, &SendError{ClientID: p.ClientID, Phase: Rejected, Err: err}
	}
	if !s.inflight.Acquire(p.ClientID) {
		return nil, ErrInFlight
	}
	defer s.inflight.Release(p.ClientID)

	a := NewAttempts(s.maxAttempts, s.baseDelay)
	for a.Begin() {
		m, dup, err := s.attempt(ctx, p)
		if err == nil {
			a.Succeed()
			status := "ok"
			if dup {
				status = "duplicate"
			}
			metrics.SendsTotal.WithLabelValues(status).Inc()
			metrics.SendAttempts.Observe(float64(a.Count()))
			return &Result{Message: m, Duplicate: dup, Attempts: a.Count()}, nil
		}
		if ctx.Err() != nil {
			a.Fail(ctx.Err())
			break
		}

		delay, retry := a.Fail(err)
		s.logger.Warn(ctx, "send attempt failed",
			"client_id", p.ClientID, "attempt", a.Count(), "retry", retry, "error", err)
		if !retry {
			break
		}
		if err := s.sleep(ctx, delay); err != nil {
			a.Fail(err)
			break
		}
	}

	metrics.SendsTotal.WithLabelValues(a.Phase().String()).Inc()
	metrics.SendAttempts.Observe(float64(a.Count()))
	return nil, &SendError{ClientID: p.ClientID, Attempts: a.Count(), Phase: a.Phase(), Err: a.Err()}
}

func (s *Sender) attempt(ctx context.Context, p models.SendParams) (*models.Message, bool, error) {
	res, err := s.backend.SendIdempotent(ctx, p)
	switch {
	case err == nil:
		m, err := coerce(res.Row, p)
		return m, res.Duplicate, err
	case errors.Is(err, common.ErrDuplicate):
		m, err := s.resolveDuplicate(ctx, p)
		return m, true, err
	}
	return nil, false, err
}

// resolveDuplicate fetches the row that already holds p's client id,
// falling back to the owner and creation time.
func (s *Sender) resolveDuplicate(ctx context.Context, p models.SendParams) (*models.Message, error) {
	row, err := s.backend.LookupByClientID(ctx, p.ClientID)
	if errors.Is(err, common.ErrNotFound) {
		row, err = s.backend.LookupByCreatedAt(ctx, p.UserID, p.CreatedAt)
	}
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// The conflict was reported but the row is not visible yet.
			return nil, fmt.Errorf("%w: duplicate not found: %w", common.ErrTransientNetwork, err)
		}
		return nil, fmt.Errorf("resolve duplicate: %w", err)
	}
	s.logger.Debug(ctx, "duplicate resolved", "client_id", p.ClientID, "server_id", row.String("id"))
	return coerce(row, p)
}

// coerce types a server row, filling identity fields the server left out
// from the request.
func coerce(row models.Row, p models.SendParams) (*models.Message, error) {
	r := models.Row{}
	for k, v := range row {
		r[k] = v
	}
	if r.String("client_id") == "" {
		r["client_id"] = p.ClientID
	}
	if r.String("user_id") == "" {
		r["user_id"] = p.UserID
	}
	if r.String("created_at") == "" {
		r["created_at"] = models.FormatTime(p.CreatedAt)
	}
	if r.String("message") == "" {
		r["message"] = p.Message
	}
	m, err := models.CoerceMessage(r)
	if err != nil {
		return nil, err
	}
	if m.ClientID != p.ClientID {
		return nil, fmt.Errorf("%w: server returned row for %s, expected %s", common.ErrValidation, m.ClientID, p.ClientID)
	}
	return m, nil
}
