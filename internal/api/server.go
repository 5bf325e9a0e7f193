// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/staking-ledger/internal/logging"
	"github.com/staking-ledger/internal/models"
	"github.com/staking-ledger/internal/service"
)

// LedgerServiceInterface defines the ledger operations exposed over HTTP
type LedgerServiceInterface interface {
	GetOrCreateUser(ctx context.Context, input *service.GetOrCreateUserInput) (*models.User, error)
	CreateStake(ctx context.Context, input *service.CreateStakeInput) (*service.CreateStakeResult, error)
	Unstake(ctx context.Context, input *service.UnstakeInput) (*service.UnstakeResult, error)
	Deposit(ctx context.Context, input *service.DepositInput) (*service.DepositResult, error)
	GetUserStats(ctx context.Context, walletAddress string) (*service.UserStats, error)
	GetReferrals(ctx context.Context, walletAddress string) (*models.ReferralSummary, error)
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	ledger     LedgerServiceInterface
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, ledger LedgerServiceInterface, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		ledger: ledger,
		logger: logger,
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Order matters: the request logger must be in the context before
	// logging and recovery run
	s.router.Use(RequestIDMiddleware(s.logger))
	s.router.Use(LoggingMiddleware)
	s.router.Use(CompressionMiddleware)
	s.router.Use(RecoveryMiddleware)

	s.setupRoutes()

	// mux skips middleware when no route matches, so CORS wraps the whole
	// router to answer preflight requests for every path
	s.handler = CORSMiddleware(s.router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Legacy single-endpoint dispatch; registered ahead of the /api prefix
	s.router.HandleFunc("/api", s.handleAction).Methods("POST").Queries("action", "{action}")

	api := s.router.PathPrefix("/api").Subrouter()

	// User endpoints
	api.HandleFunc("/users", s.handleGetOrCreateUser).Methods("POST")
	api.HandleFunc("/users/{wallet}/stats", s.handleGetUserStats).Methods("GET")
	api.HandleFunc("/users/{wallet}/referrals", s.handleGetReferrals).Methods("GET")

	// Stake endpoints
	api.HandleFunc("/stakes", s.handleCreateStake).Methods("POST")
	api.HandleFunc("/stakes/{id:[0-9]+}/unstake", s.handleUnstake).Methods("POST")

	// Deposit endpoints
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ledger.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Health check failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "staking-ledger",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "staking-ledger",
	})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, ErrCodeNotFound, "Endpoint not found", nil)
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed", nil)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
