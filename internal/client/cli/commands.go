package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/client/query"
	"github.com/dmitrijs2005/balancesync/internal/common"
)

// feedWait bounds how long a feed command waits for a running fetch.
const feedWait = 10 * time.Second

func formatMessage(m *models.Message) string {
	state := "sent"
	if m.Pending {
		state = "pending"
	}
	author := m.AuthorEmail
	if author == "" {
		author = m.UserID
	}
	return fmt.Sprintf("[%s] %s %s: %s (%s)",
		state, m.CreatedAt.Local().Format("2006-01-02 15:04"), author, m.Message, m.ClientID)
}

func (a *App) Send(ctx context.Context, text string) error {
	m, err := a.chatService.Send(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, formatMessage(m))
	return nil
}

func (a *App) List(ctx context.Context) error {
	msgs, err := a.chatService.List(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(a.out, "No messages")
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintln(a.out, formatMessage(m))
	}
	return nil
}

func (a *App) Resend(ctx context.Context, clientID string) error {
	if err := a.chatService.Resend(ctx, clientID); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Done")
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st, err := a.chatService.Status(ctx)
	if err != nil {
		return err
	}
	last := "never"
	if !st.LastSync.IsZero() {
		last = st.LastSync.Local().Format(time.DateTime)
	}
	fmt.Fprintf(a.out, "connection: %s\nmessages:   %d (%d pending)\nlast sync:  %s\n",
		st.Reachability.Status, st.Total, st.Pending, last)
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	if err := a.chatService.Sync(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Synchronized")
	return nil
}

func (a *App) Cleanup(ctx context.Context, days string) error {
	n, err := strconv.Atoi(days)
	if err != nil || n < 0 {
		return fmt.Errorf("%w: days must be a non-negative number", common.ErrValidation)
	}
	removed, err := a.chatService.Cleanup(ctx, time.Duration(n)*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Removed %d messages\n", removed)
	return nil
}

func (a *App) SetOnline(ctx context.Context, online bool) error {
	st := a.conn.SetConnectivity(ctx, online)
	fmt.Fprintln(a.out, "connection:", st.Status)
	return nil
}

// Feed prints a cache-backed resource, waiting for a running fetch.
func (a *App) Feed(ctx context.Context, resource models.Resource) error {
	h := a.chatService.Feed(ctx, resource)

	wctx, cancel := context.WithTimeout(ctx, feedWait)
	defer cancel()
	v, err := h.Wait(wctx)
	if err != nil {
		v = h.Current()
	}
	printView(a, v)
	return nil
}

func printView(a *App, v query.View) {
	switch v.Status {
	case query.StatusEmpty:
		fmt.Fprintf(a.out, "No %s available offline yet\n", v.Resource)
		return
	case query.StatusLoading:
		fmt.Fprintf(a.out, "Still loading %s\n", v.Resource)
		return
	}
	if v.Stale {
		fmt.Fprintf(a.out, "(cached %s)\n", v.UpdatedAt.Local().Format(time.DateTime))
	}
	for _, it := range v.Items {
		switch x := it.(type) {
		case models.NewsItem:
			fmt.Fprintf(a.out, "%s  %s\n    %s\n", x.Date.Format(time.DateOnly), x.Title, x.Summary)
		case models.Quote:
			fmt.Fprintf(a.out, "%q  %s\n", x.Text, x.Author)
		case models.Statistic:
			fmt.Fprintf(a.out, "%s  goal %s / %s  (%s%%)\n", x.Month, x.ActualGoal, x.PerfectGoal, x.Progress().StringFixed(1))
		default:
			fmt.Fprintln(a.out, it.Key())
		}
	}
}
