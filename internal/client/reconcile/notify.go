package reconcile

import "github.com/dmitrijs2005/balancesync/internal/client/models"

type NotificationKind int

const (
	MessageSent NotificationKind = iota
	SendFailed
	PullFailed
	SyncCompleted
)

func (k NotificationKind) String() string {
	switch k {
	case MessageSent:
		return "message-sent"
	case SendFailed:
		return "send-failed"
	case PullFailed:
		return "pull-failed"
	case SyncCompleted:
		return "sync-completed"
	}
	return "unknown"
}

// Notification is a non-fatal event for the UI shell.
type Notification struct {
	Kind     NotificationKind
	Resource models.Resource
	ClientID string
	Message  *models.Message
	Err      error
}

// PullReport summarises one pull or full sync.
type PullReport struct {
	Fetched  int
	Inserted int
	Updated  int
	Skipped  int
	Rejected int
	Deleted  int
}

func (r PullReport) Changed() bool {
	return r.Inserted+r.Updated+r.Deleted > 0
}

// FlushReport summarises one FlushPending run.
type FlushReport struct {
	Sent   int
	Failed int
	// Deferred counts rows not attempted because reachability was lost or a
	// send for them was already running.
	Deferred int
	// Skipped counts rows the server rejected earlier.
	Skipped int
}
