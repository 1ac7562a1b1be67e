// Package server exposes the HTTP API: wallet operations, the booking and
// skill exchange lifecycles, review gating, and the health and metrics
// endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"educhain/authsvc"
	"educhain/escrow"
	"educhain/exchange"
	"educhain/history"
	"educhain/reputation"
	"educhain/wallet"
)

const requestBodyLimit = 1 << 20 // 1 MiB

type walletService interface {
	Balance(ctx context.Context, userID string) (*wallet.Balance, error)
	Register(ctx context.Context, userID string) (*wallet.RegistrationReceipt, error)
	Verify(ctx context.Context, userID string) (*wallet.Verification, error)
	Transfer(ctx context.Context, fromUserID, toAddress string, amount float64, description string) (*wallet.TransferReceipt, error)
	History(ctx context.Context, userID string, limit int) ([]history.Record, error)
	Stats(ctx context.Context, userID string) (*history.StatsReport, error)
}

type bookingService interface {
	Create(ctx context.Context, req escrow.CreateRequest) (*escrow.CreateReceipt, error)
	Confirm(ctx context.Context, bookingID uint64, tutorID string) (*escrow.ActionReceipt, error)
	Reject(ctx context.Context, bookingID uint64, tutorID string) (*escrow.ActionReceipt, error)
	ConfirmOutcome(ctx context.Context, bookingID uint64, userID string, courseHeld bool) (*escrow.ActionReceipt, error)
	Get(ctx context.Context, bookingID uint64) (escrow.Booking, error)
	ResolveFrontendID(ctx context.Context, frontendID string) (uint64, error)
	ForStudent(ctx context.Context, studentID string) ([]escrow.Booking, error)
	ForTutor(ctx context.Context, tutorID string) ([]escrow.Booking, error)
}

type exchangeService interface {
	Create(ctx context.Context, req exchange.CreateRequest) (*exchange.CreateReceipt, error)
	Accept(ctx context.Context, exchangeID uint64, tutorID string) (*exchange.ActionReceipt, error)
	Reject(ctx context.Context, exchangeID uint64, tutorID string) (*exchange.ActionReceipt, error)
	Complete(ctx context.Context, exchangeID uint64, userID string) (*exchange.ActionReceipt, error)
	Get(ctx context.Context, exchangeID uint64) (exchange.Exchange, error)
	ForUser(ctx context.Context, userID string) ([]exchange.Exchange, error)
}

type reviewGate interface {
	SubmitBookingReview(ctx context.Context, bearer string, bookingID uint64, reviewerID string, req reputation.ReviewRequest) (json.RawMessage, error)
	ConfirmBookingReview(ctx context.Context, bearer string, bookingID uint64, reviewerID string) (*reputation.ConfirmReceipt, error)
	SubmitExchangeReview(ctx context.Context, bearer string, exchangeID uint64, reviewerID string, req reputation.ReviewRequest) (json.RawMessage, error)
	ConfirmExchangeReview(ctx context.Context, bearer string, exchangeID uint64, reviewerID string) (*reputation.ConfirmReceipt, error)
	BookingReviews(ctx context.Context, bookingID uint64) (*authsvc.ReviewList, error)
	ExchangeReviews(ctx context.Context, exchangeID uint64) (*authsvc.ReviewList, error)
}

type nodeProber interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

type directoryProber interface {
	Health(ctx context.Context) error
}

// Server holds the HTTP dependencies.
type Server struct {
	wallets   walletService
	bookings  bookingService
	exchanges exchangeService
	reviews   reviewGate
	node      nodeProber
	directory directoryProber
	auth      *Authenticator
	log       *slog.Logger
	started   time.Time
}

func New(wallets walletService, bookings bookingService, exchanges exchangeService, reviews reviewGate, node nodeProber, directory directoryProber, auth *Authenticator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		wallets:   wallets,
		bookings:  bookings,
		exchanges: exchanges,
		reviews:   reviews,
		node:      node,
		directory: directory,
		auth:      auth,
		log:       log.With("component", "server"),
		started:   time.Now(),
	}
}

// Handler builds the routed handler, wrapped for tracing.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/blockchain", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/balance", s.handleBalance)
		r.Post("/transfer", s.handleTransfer)
		r.Get("/stats", s.handleStats)
		r.Get("/history", s.handleHistory)
		r.Post("/wallet/register", s.handleRegisterWallet)
		r.Get("/verify-user/{userID}", s.handleVerifyUser)

		r.Post("/booking", s.handleCreateBooking)
		r.Patch("/booking/{id}/confirm", s.handleConfirmBooking)
		r.Patch("/booking/{id}/cancel", s.handleCancelBooking)
		r.Post("/booking/{id}/confirm-outcome", s.handleConfirmOutcome)
		r.Get("/booking/{id}", s.handleBookingDetails)
		r.Get("/booking/user/{userID}", s.handleUserBookings)
		r.Get("/booking/tutor/{userID}", s.handleTutorBookings)
		r.Post("/booking/{id}/submit-review", s.handleSubmitBookingReview)
		r.Post("/booking/{id}/confirm-review", s.handleConfirmBookingReview)
		r.Get("/booking/{id}/reviews", s.handleBookingReviews)

		r.Post("/skill-exchange", s.handleCreateExchange)
		r.Patch("/skill-exchange/{id}/accept", s.handleAcceptExchange)
		r.Patch("/skill-exchange/{id}/reject", s.handleRejectExchange)
		r.Post("/skill-exchange/{id}/complete", s.handleCompleteExchange)
		r.Get("/skill-exchange/{id}", s.handleExchangeDetails)
		r.Get("/skill-exchange/user/{userID}", s.handleUserExchanges)
		r.Post("/skill-exchange/{id}/submit-review", s.handleSubmitExchangeReview)
		r.Post("/skill-exchange/{id}/confirm-review", s.handleConfirmExchangeReview)
		r.Get("/skill-exchange/{id}/reviews", s.handleExchangeReviews)
	})

	return otelhttp.NewHandler(r, "educhain.http")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus probes the chain node and the directory service.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]any{
		"service": "educhain",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	healthy := true

	if block, err := s.node.LatestBlock(ctx); err != nil {
		healthy = false
		status["node"] = map[string]any{"connected": false, "error": err.Error()}
	} else {
		status["node"] = map[string]any{"connected": true, "latestBlock": block}
	}
	if err := s.directory.Health(ctx); err != nil {
		healthy = false
		status["authService"] = map[string]any{"reachable": false, "error": err.Error()}
	} else {
		status["authService"] = map[string]any{"reachable": true}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	status["healthy"] = healthy
	writeJSON(w, code, status)
}
