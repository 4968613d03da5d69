package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/IlyasAtabaev731/downline-ledger/internal/accounts"
	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/hierarchy"
	"github.com/IlyasAtabaev731/downline-ledger/internal/ledger"
	"github.com/IlyasAtabaev731/downline-ledger/internal/lib/money"
)

func (s *APIServer) listUsersHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := queryInt(r, "page", 1)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		limit, err := queryInt(r, "limit", 20)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := s.services.Accounts.ListUsers(r.Context(), identityFrom(r.Context()), accounts.UserQuery{
			Search: r.URL.Query().Get("search"),
			Page:   page,
			Limit:  min(limit, s.config.Ledger.MaxPageLimit),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *APIServer) nextLevelHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.services.Accounts.NextLevelUsers(r.Context(), identityFrom(r.Context()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

type userHierarchyResponse struct {
	User     models.User        `json:"user"`
	Downline hierarchy.Downline `json:"hierarchy"`
}

func (s *APIServer) userHierarchyHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Authorize(identityFrom(r.Context()), auth.OpAdminView); err != nil {
			s.writeError(w, r, err)
			return
		}

		userID := mux.Vars(r)["id"]
		user, err := s.services.Accounts.Profile(r.Context(), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		downline, err := s.services.Hierarchy.Downline(r.Context(), userID, 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, userHierarchyResponse{User: user, Downline: downline})
	}
}

func (s *APIServer) summaryHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.services.Accounts.BalanceSummary(r.Context(), identityFrom(r.Context()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type AdminCreditRequest struct {
	UserID      string       `json:"user_id" validate:"required"`
	Amount      money.Amount `json:"amount"`
	Description string       `json:"description" validate:"max=200"`
}

func (s *APIServer) adminCreditHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdminCreditRequest
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		cents, err := req.Amount.Cents()
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := s.services.Ledger.AdminCredit(r.Context(), identityFrom(r.Context()), ledger.AdminCreditRequest{
			TargetID:    req.UserID,
			Amount:      cents,
			Description: req.Description,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type statusResponse struct {
	UserID   string `json:"user_id"`
	IsActive bool   `json:"is_active"`
}

func (s *APIServer) toggleStatusHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.services.Accounts.ToggleStatus(r.Context(), identityFrom(r.Context()), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{UserID: user.ID, IsActive: user.IsActive})
	}
}
