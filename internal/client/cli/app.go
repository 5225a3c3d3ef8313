package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/balancesync/internal/client/client"
	"github.com/dmitrijs2005/balancesync/internal/client/config"
	"github.com/dmitrijs2005/balancesync/internal/client/models"
	"github.com/dmitrijs2005/balancesync/internal/client/query"
	"github.com/dmitrijs2005/balancesync/internal/client/reachability"
	"github.com/dmitrijs2005/balancesync/internal/client/reconcile"
	"github.com/dmitrijs2005/balancesync/internal/client/sender"
	"github.com/dmitrijs2005/balancesync/internal/client/services"
	"github.com/dmitrijs2005/balancesync/internal/client/store"
	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/logging"
)

// Connectivity is the part of the monitor the shell drives directly.
type Connectivity interface {
	Current() reachability.State
	SetConnectivity(ctx context.Context, online bool) reachability.State
}

type App struct {
	config *config.Config
	logger logging.Logger

	store   *store.Store
	monitor *reachability.Monitor
	engine  *reconcile.Engine
	layer   *query.Layer
	feeds   client.Realtime

	authService services.AuthService
	chatService services.ChatService
	conn        Connectivity

	mu      sync.RWMutex
	session *client.Session

	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the local store and wires every client component.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	st, err := store.Open(ctx, c.DBPath, logger)
	if err != nil {
		logger.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}
	if st.Degraded {
		logger.Warn(ctx, "local schema upgrade incomplete; running on the previous layout")
	}

	backend := client.NewHTTPBackend(c.BackendURL, c.APIKey, client.WithProbePath(c.ProbePath))

	monitor := reachability.NewMonitor(backend,
		reachability.WithTimeout(c.ProbeTimeout),
		reachability.WithInterval(c.ProbeInterval),
		reachability.WithLogger(logger),
	)

	snd := sender.New(backend,
		sender.WithMaxAttempts(c.SendAttempts),
		sender.WithBaseDelay(c.SendBaseDelay),
		sender.WithLogger(logger),
	)

	opts := []reconcile.Option{
		reconcile.WithSender(snd),
		reconcile.WithLogger(logger),
		reconcile.WithInterval(c.SyncInterval),
		reconcile.WithFullSyncEvery(c.FullSyncEvery),
	}
	var rt client.Realtime
	if c.Realtime {
		token := func() string {
			if s := backend.Session(); s != nil {
				return s.AccessToken
			}
			return ""
		}
		rt = client.NewWSRealtime(backend.RealtimeURL(), c.APIKey, token, logger)
		opts = append(opts, reconcile.WithRealtime(rt))
	}
	engine := reconcile.New(st, backend, monitor, opts...)
	layer := query.New(backend, monitor, st.Snapshots, logger)

	return &App{
		config:      c,
		logger:      logger,
		store:       st,
		monitor:     monitor,
		engine:      engine,
		layer:       layer,
		feeds:       rt,
		authService: services.NewAuthService(backend, backend, st.Settings, engine, layer, logger),
		chatService: services.NewChatService(engine, monitor, layer),
		conn:        monitor,
		reader:      bufio.NewReader(os.Stdin),
		out:         os.Stdout,
	}, nil
}

func (a *App) isLoggedIn() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session != nil
}

func (a *App) setSession(s *client.Session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

func (a *App) getStatus() string {
	s := a.conn.Current().Status.String()
	a.mu.RLock()
	if a.session != nil {
		s = a.session.Email + " " + s
	}
	a.mu.RUnlock()
	return fmt.Sprintf("(%s)", s)
}

// startBackground launches the monitor and sync loops and prints engine
// notifications. The returned func stops them and waits.
func (a *App) startBackground(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	unsub := a.engine.Notifications(func(n reconcile.Notification) {
		switch n.Kind {
		case reconcile.MessageSent:
			fmt.Fprintf(a.out, "\n[sent] %s\n", n.ClientID)
		case reconcile.SendFailed:
			fmt.Fprintf(a.out, "\n[not sent yet] %s: %v\n", n.ClientID, n.Err)
		}
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.monitor.Run(ctx)
	}()
	if a.feeds != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.layer.Watch(ctx, a.feeds, a.monitor, models.ResourceNews, models.ResourceQuotes, models.ResourceStatistics)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error(ctx, "live feeds stopped", "error", err)
			}
		}()
	}
	go func() {
		defer wg.Done()
		if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error(ctx, "sync loop stopped", "error", err)
		}
	}()

	return func() {
		cancel()
		wg.Wait()
		unsub()
	}
}

// Run restores the saved session, starts background sync and blocks in the
// REPL until the user exits.
func (a *App) Run(ctx context.Context) {
	defer a.Close()

	if err := a.layer.Prepopulate(ctx); err != nil {
		a.logger.Warn(ctx, "cache prepopulate failed", "error", err)
	}

	if s, err := a.authService.Restore(ctx); err == nil {
		a.setSession(s)
		fmt.Fprintf(a.out, "Welcome back, %s\n", s.Email)
	} else if !errors.Is(err, common.ErrUnauthorized) {
		a.logger.Warn(ctx, "session restore failed", "error", err)
	}

	stop := a.startBackground(ctx)
	defer stop()

	fmt.Fprintln(a.out, "Type 'help' for commands")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

func (a *App) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error(context.Background(), "close store", "error", err)
	}
}
