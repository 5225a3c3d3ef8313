package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/balancesync/internal/common"
)

// Error codes carried in the JSON error body.
const (
	codeUniqueViolation = "23505"
	codeInvalidInput    = "22P02"
	codeUnauthorized    = "PGRST301"
	codeNotFound        = "PGRST116"
	codeInternal        = "XX000"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandlerFunc is an http handler that reports failures by returning them.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) handle(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			status, body := classify(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
			}
			writeJSON(w, status, body)
		}
	}
}

// classify maps an error to a status and a body. Internal details are not
// exposed for unclassified errors.
func classify(err error) (int, errorBody) {
	switch {
	case errors.Is(err, common.ErrDuplicate):
		return http.StatusConflict, errorBody{codeUniqueViolation, err.Error()}
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, errorBody{codeInvalidInput, err.Error()}
	case errors.Is(err, common.ErrUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, errorBody{codeUnauthorized, err.Error()}
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, errorBody{codeNotFound, err.Error()}
	}
	return http.StatusInternalServerError, errorBody{codeInternal, "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
