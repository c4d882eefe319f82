// Package api exposes the vault lifecycle over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"autotp/internal/domain"
	"autotp/internal/ledger"
	"autotp/internal/pricing"
	"autotp/internal/referral"
	"autotp/internal/solana"
	"autotp/internal/storage"
	"autotp/internal/vault"
)

// Vaults is the lifecycle surface served by the API.
type Vaults interface {
	Initialize(ctx context.Context, req vault.InitializeRequest) (*vault.Snapshot, error)
	Get(ctx context.Context, owner solana.PublicKey) (*vault.Snapshot, error)
	Deposit(ctx context.Context, owner solana.PublicKey, amount uint64) (*vault.Snapshot, error)
	RecordPrice(ctx context.Context, owner solana.PublicKey, price uint64) (*domain.Vault, error)
	Cancel(ctx context.Context, caller, owner solana.PublicKey) (*vault.CancelResult, error)
	Execute(ctx context.Context, req vault.ExecuteRequest) (*vault.ExecuteResult, error)
}

// Referrals reports referrer stats.
type Referrals interface {
	Stats(ctx context.Context, referrer solana.PublicKey) (*referral.Stats, error)
}

// Options tune request handling.
type Options struct {
	PriceDecimals int32
	AllowDeposits bool
	PublicURL     string // base of referral links; empty disables them
	// PriceAuthority is the only caller allowed to record prices. The zero
	// key rejects every price update.
	PriceAuthority solana.PublicKey
}

// Server routes HTTP requests to the controller.
type Server struct {
	vaults    Vaults
	referrals Referrals
	opts      Options
	logger    zerolog.Logger
}

// NewServer creates a Server.
func NewServer(vaults Vaults, referrals Referrals, opts Options, logger zerolog.Logger) *Server {
	return &Server{
		vaults:    vaults,
		referrals: referrals,
		opts:      opts,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		api.Post("/vaults", s.handleInitialize)
		api.Get("/vaults/{owner}", s.handleGet)
		api.Post("/vaults/{owner}/deposit", s.handleDeposit)
		api.Post("/vaults/{owner}/cancel", s.handleCancel)
		api.Post("/vaults/{owner}/execute", s.handleExecute)
		api.Post("/vaults/{owner}/price", s.handlePrice)
		api.Get("/referrals/{referrer}", s.handleReferral)
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// writeErr maps a controller error to a status and code.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, vault.ErrInvalidInput),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, pricing.ErrPriceOverflow),
		errors.Is(err, solana.ErrInvalidPublicKey):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, vault.ErrUnauthorized):
		status, code = http.StatusForbidden, "UNAUTHORIZED"
	case errors.Is(err, vault.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, vault.ErrAlreadyExists):
		status, code = http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, vault.ErrTargetNotReached):
		status, code = http.StatusConflict, "TARGET_NOT_REACHED"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status, code = http.StatusConflict, "INSUFFICIENT_FUNDS"
	case errors.Is(err, ledger.ErrOverflow):
		status, code = http.StatusConflict, "BALANCE_OVERFLOW"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
		message = "internal error"
	}
	WriteError(w, status, code, message, vault.ProgramCode(err))
}
