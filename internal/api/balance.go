package api

import (
	"net/http"

	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/ledger"
	"github.com/IlyasAtabaev731/downline-ledger/internal/lib/money"
)

func (s *APIServer) balanceHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identityFrom(r.Context())
		if err := auth.Authorize(caller, auth.OpViewBalance); err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := s.services.Ledger.Balance(r.Context(), caller.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *APIServer) statementHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identityFrom(r.Context())
		if err := auth.Authorize(caller, auth.OpViewBalance); err != nil {
			s.writeError(w, r, err)
			return
		}

		page, err := queryInt(r, "page", 1)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		st, err := s.services.Ledger.Statement(r.Context(), caller.ID, ledger.StatementQuery{
			Type:  r.URL.Query().Get("type"),
			Page:  page,
			Limit: limit,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *APIServer) historyHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identityFrom(r.Context())
		if err := auth.Authorize(caller, auth.OpViewBalance); err != nil {
			s.writeError(w, r, err)
			return
		}

		direction := ledger.Direction(r.URL.Query().Get("type"))
		h, err := s.services.Ledger.History(r.Context(), caller.ID, direction)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h)
	}
}

type TransferRequest struct {
	ReceiverID  string       `json:"receiver_id" validate:"required"`
	Amount      money.Amount `json:"amount"`
	Description string       `json:"description" validate:"max=200"`
}

func (s *APIServer) transferHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransferRequest
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		cents, err := req.Amount.Cents()
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := s.services.Ledger.Transfer(r.Context(), identityFrom(r.Context()), ledger.TransferRequest{
			ReceiverID:  req.ReceiverID,
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

type RechargeRequest struct {
	Amount money.Amount `json:"amount"`
}

func (s *APIServer) rechargeHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RechargeRequest
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		cents, err := req.Amount.Cents()
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := s.services.Ledger.Recharge(r.Context(), identityFrom(r.Context()), cents)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
