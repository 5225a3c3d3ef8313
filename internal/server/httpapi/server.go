package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/balancesync/internal/logging"
	"github.com/dmitrijs2005/balancesync/internal/server/auth"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
	"github.com/dmitrijs2005/balancesync/internal/server/services"
)

type Users interface {
	SignUp(ctx context.Context, email string, password []byte) (*services.Session, error)
	SignIn(ctx context.Context, email string, password []byte) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
	SignOut(ctx context.Context, userID string) error
	Authenticate(accessToken string) (*auth.Claims, error)
}

type Messages interface {
	Send(ctx context.Context, callerID string, p models.SendParams) (*models.ChatMessage, bool, error)
	Since(ctx context.Context, since *time.Time) ([]*models.ChatMessage, error)
	LookupByClientID(ctx context.Context, clientID string) (*models.ChatMessage, error)
	LookupByCreatedAt(ctx context.Context, userID string, createdAt time.Time) (*models.ChatMessage, error)
	Delete(ctx context.Context, callerID, clientID string) error
}

type Resources interface {
	Known(table string) bool
	Since(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error)
}

// Feed serves a websocket subscription for one table.
type Feed interface {
	Serve(w http.ResponseWriter, r *http.Request, resource string)
}

type Server struct {
	users     Users
	messages  Messages
	resources Resources
	feed      Feed
	apiKey    string
	logger    logging.Logger

	registry *prometheus.Registry
	metrics  *Metrics
}

func NewServer(apiKey string, users Users, messages Messages, resources Resources, feed Feed, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	reg := prometheus.NewRegistry()
	return &Server{
		users:     users,
		messages:  messages,
		resources: resources,
		feed:      feed,
		apiKey:    apiKey,
		logger:    logger.With("component", "httpapi"),
		registry:  reg,
		metrics:   NewMetrics(reg),
	}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.middleware)

	r.Get("/healthcheck.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.authenticate)

		r.Post("/auth/v1/signup", s.handle(s.signUp))
		r.Post("/auth/v1/token", s.handle(s.token))
		r.Get("/rest/v1/{resource}", s.handle(s.fetch))
		r.Get("/realtime/v1", s.handle(s.realtime))

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/auth/v1/logout", s.handle(s.logout))
			r.Post("/rest/v1/rpc/send_chat_message", s.handle(s.send))
			r.Get("/rest/v1/chat_messages/lookup", s.handle(s.lookup))
			r.Delete("/rest/v1/chat_messages/{clientID}", s.handle(s.deleteMessage))
		})
	})

	return r
}
