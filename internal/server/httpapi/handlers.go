package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/balancesync/internal/common"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
)

const (
	chatTable    = "chat_messages"
	maxBodyBytes = 1 << 20
)

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read request", common.ErrValidation)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON", common.ErrValidation)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", common.ErrValidation, s)
	}
	return t, nil
}

func parseSince(r *http.Request) (*time.Time, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return nil, nil
	}
	t, err := parseTime(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) error {
	var c credentials
	if err := decodeBody(r, &c); err != nil {
		return err
	}
	sess, err := s.users.SignUp(r.Context(), c.Email, []byte(c.Password))
	if err != nil {
		return err
	}
	s.logger.Info(r.Context(), "user registered", "user_id", sess.UserID)
	writeJSON(w, http.StatusOK, sess)
	return nil
}

// token signs in with a password, or rotates a refresh token when
// grant_type=refresh_token.
func (s *Server) token(w http.ResponseWriter, r *http.Request) error {
	if r.URL.Query().Get("grant_type") == "refresh_token" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := decodeBody(r, &body); err != nil {
			return err
		}
		if body.RefreshToken == "" {
			return fmt.Errorf("%w: refresh_token is required", common.ErrValidation)
		}
		sess, err := s.users.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, sess)
		return nil
	}

	var c credentials
	if err := decodeBody(r, &c); err != nil {
		return err
	}
	sess, err := s.users.SignIn(r.Context(), c.Email, []byte(c.Password))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sess)
	return nil
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) error {
	claims, _ := claimsFrom(r.Context())
	if err := s.users.SignOut(r.Context(), claims.UserID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) error {
	resource := chi.URLParam(r, "resource")
	since, err := parseSince(r)
	if err != nil {
		return err
	}

	if resource == chatTable {
		if _, ok := claimsFrom(r.Context()); !ok {
			return fmt.Errorf("%w: sign in required", common.ErrUnauthorized)
		}
		rows, err := s.messages.Since(r.Context(), since)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, rows)
		return nil
	}

	if !s.resources.Known(resource) {
		return fmt.Errorf("%w: unknown resource %q", common.ErrNotFound, resource)
	}
	rows, err := s.resources.Since(r.Context(), resource, since)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rows)
	return nil
}

// send answers 201 with a newly stored row and 200 with the row that
// already carried the client id.
func (s *Server) send(w http.ResponseWriter, r *http.Request) error {
	claims, _ := claimsFrom(r.Context())
	var p models.SendParams
	if err := decodeBody(r, &p); err != nil {
		return err
	}
	msg, created, err := s.messages.Send(r.Context(), claims.UserID, p)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, msg)
	return nil
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	var (
		msg *models.ChatMessage
		err error
	)
	switch {
	case q.Get("client_id") != "":
		msg, err = s.messages.LookupByClientID(r.Context(), q.Get("client_id"))
	case q.Get("user_id") != "" && q.Get("created_at") != "":
		createdAt, perr := parseTime(q.Get("created_at"))
		if perr != nil {
			return perr
		}
		msg, err = s.messages.LookupByCreatedAt(r.Context(), q.Get("user_id"), createdAt)
	default:
		return fmt.Errorf("%w: client_id or user_id and created_at required", common.ErrValidation)
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, msg)
	return nil
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) error {
	claims, _ := claimsFrom(r.Context())
	if err := s.messages.Delete(r.Context(), claims.UserID, chi.URLParam(r, "clientID")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) realtime(w http.ResponseWriter, r *http.Request) error {
	resource := r.URL.Query().Get("resource")
	switch {
	case resource == chatTable:
		if _, ok := claimsFrom(r.Context()); !ok {
			return fmt.Errorf("%w: sign in required", common.ErrUnauthorized)
		}
	case !s.resources.Known(resource):
		return fmt.Errorf("%w: unknown resource %q", common.ErrNotFound, resource)
	}
	s.feed.Serve(w, r, resource)
	return nil
}
