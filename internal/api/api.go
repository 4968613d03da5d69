package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/IlyasAtabaev731/downline-ledger/internal/accounts"
	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/config"
	"github.com/IlyasAtabaev731/downline-ledger/internal/hierarchy"
	"github.com/IlyasAtabaev731/downline-ledger/internal/ledger"
	"github.com/IlyasAtabaev731/downline-ledger/internal/metrics"
)

// Services are the engines the HTTP layer calls into.
type Services struct {
	Ledger    *ledger.Engine
	Hierarchy *hierarchy.Traverser
	Accounts  *accounts.Service
	Resolver  *auth.Resolver
}

type APIServer struct {
	config   *config.Config
	logger   *slog.Logger
	server   *http.Server
	services Services
	limiters *limiterSet
	validate *validator.Validate
}

func New(config *config.Config, logger *slog.Logger, services Services) *APIServer {
	s := &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr:              config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
			ReadHeaderTimeout: 10 * time.Second,
		},
		services: services,
		limiters: newLimiterSet(config.HTTP.RateLimit, config.HTTP.Burst),
		validate: validator.New(),
	}
	s.configureRouter()
	return s
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) configureRouter() {
	router := mux.NewRouter()
	router.Use(metrics.InstrumentHandler)

	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/api/auth/login", s.loginHandler()).Methods("POST")

	router.HandleFunc("/api/users/me", s.authenticate(s.profileHandler())).Methods("GET")
	router.HandleFunc("/api/users", s.authenticate(s.createUserHandler())).Methods("POST")
	router.HandleFunc("/api/users/downline", s.authenticate(s.downlineHandler())).Methods("GET")
	router.HandleFunc("/api/users/downline/direct", s.authenticate(s.directDownlineHandler())).Methods("GET")
	router.HandleFunc("/api/users/downline/search", s.authenticate(s.searchDownlineHandler())).Methods("GET")
	router.HandleFunc("/api/users/{id}/password", s.authenticate(s.changePasswordHandler())).Methods("PUT")

	router.HandleFunc("/api/balance", s.authenticate(s.balanceHandler())).Methods("GET")
	router.HandleFunc("/api/balance/statement", s.authenticate(s.statementHandler())).Methods("GET")
	router.HandleFunc("/api/balance/history", s.authenticate(s.historyHandler())).Methods("GET")
	router.HandleFunc("/api/balance/transfer", s.authenticate(s.transferHandler())).Methods("POST")
	router.HandleFunc("/api/balance/recharge", s.authenticate(s.rechargeHandler())).Methods("POST")

	router.HandleFunc("/api/admin/users", s.authenticate(s.listUsersHandler())).Methods("GET")
	router.HandleFunc("/api/admin/next-level", s.authenticate(s.nextLevelHandler())).Methods("GET")
	router.HandleFunc("/api/admin/hierarchy/{id}", s.authenticate(s.userHierarchyHandler())).Methods("GET")
	router.HandleFunc("/api/admin/summary", s.authenticate(s.summaryHandler())).Methods("GET")
	router.HandleFunc("/api/admin/credit", s.authenticate(s.adminCreditHandler())).Methods("POST")
	router.HandleFunc("/api/admin/users/{id}/status", s.authenticate(s.toggleStatusHandler())).Methods("PATCH")

	s.server.Handler = router
}
