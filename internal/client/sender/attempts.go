package sender

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/common"
)

// Phase is the state of one send's retry machine.
type Phase int

const (
	// Ready: an attempt may begin.
	Ready Phase = iota
	// InProgress: an attempt has begun and has not been resolved.
	InProgress
	// Waiting: the last attempt failed transiently; back off, then Begin.
	Waiting
	Succeeded
	// GaveUp: attempts are exhausted or the failure is not retryable.
	GaveUp
	// Rejected: the server refused the payload; retrying cannot help.
	Rejected
)

func (p Phase) String() string {
	switch p {
	case Ready:
		return "ready"
	case InProgress:
		return "in-progress"
	case Waiting:
		return "waiting"
	case Succeeded:
		return "succeeded"
	case GaveUp:
		return "gave-up"
	case Rejected:
		return "rejected"
	}
	return "invalid"
}

// Terminal reports whether no further attempt will be made.
func (p Phase) Terminal() bool {
	return p == Succeeded || p == GaveUp || p == Rejected
}

// Attempts is a bounded retry state machine with doubling backoff:
// base, 2*base, 4*base, ... between attempts, at most max attempts.
type Attempts struct {
	max   int
	base  time.Duration
	n     int
	phase Phase
	last  error
}

func NewAttempts(max int, base time.Duration) *Attempts {
	if max < 1 {
		max = 1
	}
	return &Attempts{max: max, base: base}
}

// Begin starts the next attempt. It returns false in a terminal phase.
func (a *Attempts) Begin() bool {
	if a.phase.Terminal() || a.phase == InProgress {
		return false
	}
	a.n++
	a.phase = InProgress
	return true
}

// Succeed resolves the current attempt as successful.
func (a *Attempts) Succeed() {
	a.phase = Succeeded
	a.last = nil
}

// Fail resolves the current attempt with err and returns the delay before
// the next attempt. retry is false once the machine is terminal.
func (a *Attempts) Fail(err error) (delay time.Duration, retry bool) {
	a.last = err
	switch {
	case errors.Is(err, common.ErrValidation):
		a.phase = Rejected
		return 0, false
	case !Retryable(err), a.n >= a.max:
		a.phase = GaveUp
		return 0, false
	}
	a.phase = Waiting
	return a.base << (a.n - 1), true
}

func (a *Attempts) Phase() Phase { return a.phase }
func (a *Attempts) Count() int   { return a.n }
func (a *Attempts) Err() error   { return a.last }

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, common.ErrTransientNetwork)
}
