package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statusByKind = map[string]int{
	"invalid_amount":           http.StatusBadRequest,
	"invalid_argument":         http.StatusBadRequest,
	"traversal_limit":          http.StatusBadRequest,
	"unauthenticated":          http.StatusUnauthorized,
	"invalid_credentials":      http.StatusUnauthorized,
	"insufficient_funds":       http.StatusPaymentRequired,
	"permission_denied":        http.StatusForbidden,
	"unauthorized_relation":    http.StatusForbidden,
	"self_operation_forbidden": http.StatusForbidden,
	"inactive_user":            http.StatusForbidden,
	"not_found":                http.StatusNotFound,
	"user_exists":              http.StatusConflict,
	"already_bootstrapped":     http.StatusConflict,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *APIServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)

	if errors.Is(err, storage.ErrConflict) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict", Message: "concurrent update, retry the request"})
		return
	}

	status, ok := statusByKind[kind]
	if !ok {
		s.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal server error"})
		return
	}

	writeJSON(w, status, errorResponse{Error: kind, Message: err.Error()})
}

// decode reads a JSON body into dst and runs its validate tags.
func (s *APIServer) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", domain.ErrInvalidArgument)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err)
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidArgument, name)
	}
	return v, nil
}
