package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/IlyasAtabaev731/downline-ledger/internal/accounts"
	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *APIServer) loginHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := s.services.Accounts.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *APIServer) profileHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.services.Accounts.Profile(r.Context(), identityFrom(r.Context()).ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	ParentID string `json:"parent_id"`
	AsAdmin  bool   `json:"as_admin"`
}

func (s *APIServer) createUserHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		user, err := s.services.Accounts.CreateUser(r.Context(), identityFrom(r.Context()), accounts.NewUser{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
			ParentID: req.ParentID,
			AsAdmin:  req.AsAdmin,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	}
}

func (s *APIServer) downlineHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identityFrom(r.Context())
		if err := auth.Authorize(caller, auth.OpViewDownline); err != nil {
			s.writeError(w, r, err)
			return
		}

		depth, err := queryInt(r, "depth", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		downline, err := s.services.Hierarchy.Downline(r.Context(), caller.ID, depth)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, downline)
	}
}

func (s *APIServer) directDownlineHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identityFrom(r.Context())
		if err := auth.Authorize(caller, auth.OpViewDownline); err != nil {
			s.writeError(w, r, err)
			return
		}

		users, err := s.services.Hierarchy.DirectDownline(r.Context(), caller.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func (s *APIServer) searchDownlineHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := identityFrom(r.Context())
		if err := auth.Authorize(caller, auth.OpViewDownline); err != nil {
			s.writeError(w, r, err)
			return
		}

		users, err := s.services.Hierarchy.Search(r.Context(), caller.ID, r.URL.Query().Get("q"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

type ChangePasswordRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

func (s *APIServer) changePasswordHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChangePasswordRequest
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		childID := mux.Vars(r)["id"]
		if err := s.services.Accounts.ChangeChildPassword(r.Context(), identityFrom(r.Context()), childID, req.Password); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
