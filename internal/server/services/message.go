package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/logging"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
	"github.com/dmitrijs2005/balancesync/internal/server/repositories/repomanager"
)

const messagesTable = "chat_messages"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Publisher fans change events out to realtime subscribers.
type Publisher interface {
	Publish(ev models.ChangeEvent)
}

// MessageService implements the idempotent send procedure and the chat
// message reads.
type MessageService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   Publisher
	logger      logging.Logger
	now         func() time.Time
}

func NewMessageService(db *sql.DB, m repomanager.RepositoryManager, publisher Publisher, logger logging.Logger) *MessageService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &MessageService{db: db, repomanager: m, publisher: publisher, logger: logger, now: time.Now}
}

func validateParams(p models.SendParams) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("%w: invalid %s", common.ErrValidation, strings.Join(fields, ", "))
}

// Send inserts the message unless its client id is already stored. created
// reports whether a new row was written. Only the caller's own messages may
// be sent.
func (s *MessageService) Send(ctx context.Context, callerID string, p models.SendParams) (*models.ChatMessage, bool, error) {
	if err := validateParams(p); err != nil {
		return nil, false, err
	}
	if !strings.EqualFold(p.UserID, callerID) {
		return nil, false, fmt.Errorf("%w: user id does not match token", common.ErrUnauthorized)
	}

	msg, created, err := s.repomanager.Messages(s.db).Insert(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("error inserting message: %w", err)
	}
	if created {
		s.logger.Debug(ctx, "message stored", "client_id", msg.ClientID, "id", msg.ID)
		s.publish(models.EventInsert, msg, nil)
	}
	return msg, created, nil
}

func (s *MessageService) Since(ctx context.Context, since *time.Time) ([]*models.ChatMessage, error) {
	return s.repomanager.Messages(s.db).Since(ctx, since)
}

func (s *MessageService) LookupByClientID(ctx context.Context, clientID string) (*models.ChatMessage, error) {
	return s.repomanager.Messages(s.db).GetByClientID(ctx, clientID)
}

func (s *MessageService) LookupByCreatedAt(ctx context.Context, userID string, createdAt time.Time) (*models.ChatMessage, error) {
	return s.repomanager.Messages(s.db).GetByCreatedAt(ctx, userID, createdAt)
}

// Delete removes one of the caller's messages and announces it.
func (s *MessageService) Delete(ctx context.Context, callerID, clientID string) error {
	msg, err := s.repomanager.Messages(s.db).Delete(ctx, callerID, clientID)
	if err != nil {
		return fmt.Errorf("error deleting message: %w", err)
	}
	s.publish(models.EventDelete, nil, msg)
	return nil
}

func (s *MessageService) publish(typ string, record, old *models.ChatMessage) {
	if s.publisher == nil {
		return
	}
	ev := models.ChangeEvent{Type: typ, Table: messagesTable, CommitTimestamp: s.now().UTC()}
	if record != nil {
		ev.Record = record
	}
	if old != nil {
		ev.OldRecord = old
	}
	s.publisher.Publish(ev)
}
