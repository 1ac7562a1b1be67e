// Package reputation gates on-chain settlement behind the review workflow:
// a booking or skill exchange only completes once every party has locked in
// its review with the directory service.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"educhain/authsvc"
	"educhain/crypto"
	"educhain/escrow"
	"educhain/exchange"
)

var (
	// ErrNotParticipant reports a reviewer who is neither student nor tutor
	// of the record under review.
	ErrNotParticipant = errors.New("reputation: reviewer is not a party to this record")

	// ErrInvalidTarget reports a review aimed at someone outside the record.
	ErrInvalidTarget = errors.New("reputation: target user is not a party to this record")

	// ErrEmptyComment reports a review with no comment text.
	ErrEmptyComment = errors.New("reputation: review comment is required")
)

// reviewStore is the slice of authsvc.Client the gate uses.
type reviewStore interface {
	SubmitReview(ctx context.Context, bearer string, review authsvc.ReviewSubmission) (json.RawMessage, error)
	ConfirmReview(ctx context.Context, bearer, bookingID, reviewerID string) (*authsvc.ConfirmResult, error)
	Reviews(ctx context.Context, bookingID string) (*authsvc.ReviewList, error)
	UpdateRating(ctx context.Context, tutorID string) error
}

type bookingService interface {
	Get(ctx context.Context, bookingID uint64) (escrow.Booking, error)
	ConfirmOutcome(ctx context.Context, bookingID uint64, userID string, courseHeld bool) (*escrow.ActionReceipt, error)
}

type exchangeService interface {
	Get(ctx context.Context, exchangeID uint64) (exchange.Exchange, error)
	Complete(ctx context.Context, exchangeID uint64, userID string) (*exchange.ActionReceipt, error)
}

// registry resolves wallet addresses back to user identifiers.
type registry interface {
	UserIDOf(ctx context.Context, account common.Address) (string, bool, error)
}

// Gate drives review submission and confirmation, completing the underlying
// record on chain once both sides have confirmed.
type Gate struct {
	store     reviewStore
	bookings  bookingService
	exchanges exchangeService
	registry  registry
	deriver   *crypto.Deriver
	now       func() time.Time
	log       *slog.Logger
}

func NewGate(store reviewStore, bookings bookingService, exchanges exchangeService, reg registry, deriver *crypto.Deriver, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		store:     store,
		bookings:  bookings,
		exchanges: exchanges,
		registry:  reg,
		deriver:   deriver,
		now:       time.Now,
		log:       log.With("component", "reputation"),
	}
}

// ReviewRequest carries the reviewer's draft.
type ReviewRequest struct {
	TargetUserID string   `json:"targetUserId"`
	Comment      string   `json:"comment"`
	Rating       *float64 `json:"rating,omitempty"`
}

// ConfirmReceipt reports an irreversible review confirmation and whether the
// confirmation unlocked on-chain completion.
type ConfirmReceipt struct {
	AllConfirmed bool            `json:"allPartiesConfirmed"`
	ConfirmCount int             `json:"confirmCount"`
	Status       string          `json:"status"`
	Review       json.RawMessage `json:"review,omitempty"`
}

// exchangeReviewKey is the identifier exchanges are filed under in the
// review store.
func exchangeReviewKey(exch exchange.Exchange) string {
	if exch.FrontendID != "" {
		return exch.FrontendID
	}
	return fmt.Sprintf("exchange-%d", exch.ID)
}

// SubmitExchangeReview files a review draft for a skill exchange. The
// reviewer must be one of the two parties; the target defaults to the
// counterpart.
func (g *Gate) SubmitExchangeReview(ctx context.Context, bearer string, exchangeID uint64, reviewerID string, req ReviewRequest) (json.RawMessage, error) {
	exch, err := g.exchanges.Get(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if reviewerID != exch.StudentID && reviewerID != exch.TutorID {
		return nil, fmt.Errorf("%w: exchange %d", ErrNotParticipant, exchangeID)
	}

	reviewerType := "student"
	counterpart := exch.TutorID
	if reviewerID == exch.TutorID {
		reviewerType = "tutor"
		counterpart = exch.StudentID
	}
	target := req.TargetUserID
	if target == "" {
		target = counterpart
	}
	if target != exch.StudentID && target != exch.TutorID {
		return nil, fmt.Errorf("%w: exchange %d", ErrInvalidTarget, exchangeID)
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		return nil, ErrEmptyComment
	}

	return g.store.SubmitReview(ctx, bearer, authsvc.ReviewSubmission{
		BookingID:    exchangeReviewKey(exch),
		ReviewerID:   reviewerID,
		TargetUserID: target,
		Comment:      comment,
		ReviewerType: reviewerType,
		Rating:       req.Rating,
	})
}

// ConfirmExchangeReview locks in one party's review. When the store reports
// both parties confirmed, the exchange is completed on chain; a completion
// failure is logged but never fails the confirmation.
func (g *Gate) ConfirmExchangeReview(ctx context.Context, bearer string, exchangeID uint64, reviewerID string) (*ConfirmReceipt, error) {
	exch, err := g.exchanges.Get(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if reviewerID != exch.StudentID && reviewerID != exch.TutorID {
		return nil, fmt.Errorf("%w: exchange %d", ErrNotParticipant, exchangeID)
	}

	result, err := g.store.ConfirmReview(ctx, bearer, exchangeReviewKey(exch), reviewerID)
	if err != nil {
		return nil, err
	}

	if result.AllConfirmed() {
		g.log.Info("both parties confirmed, completing exchange",
			"exchange_id", exchangeID)
		if _, err := g.exchanges.Complete(ctx, exchangeID, reviewerID); err != nil {
			g.log.Warn("could not complete exchange after mutual confirmation",
				"exchange_id", exchangeID, "err", err)
		}
		g.recomputeRating(ctx, exch.TutorID)
	}

	status := exch.Status.String()
	if fresh, err := g.exchanges.Get(ctx, exchangeID); err == nil {
		status = fresh.Status.String()
	}
	return &ConfirmReceipt{
		AllConfirmed: result.AllConfirmed(),
		ConfirmCount: result.ConfirmCount,
		Status:       status,
		Review:       result.Review,
	}, nil
}

// SubmitBookingReview files a review draft for an escrowed booking. Party
// membership is checked against the derived wallet addresses.
func (g *Gate) SubmitBookingReview(ctx context.Context, bearer string, bookingID uint64, reviewerID string, req ReviewRequest) (json.RawMessage, error) {
	booking, err := g.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	addr, err := g.deriver.Address(reviewerID)
	if err != nil {
		return nil, err
	}

	var reviewerType string
	var counterpart common.Address
	switch addr {
	case booking.Student:
		reviewerType = "student"
		counterpart = booking.Tutor
	case booking.Tutor:
		reviewerType = "tutor"
		counterpart = booking.Student
	default:
		return nil, fmt.Errorf("%w: booking %d", ErrNotParticipant, bookingID)
	}

	target := req.TargetUserID
	if target == "" {
		id, ok, err := g.registry.UserIDOf(ctx, counterpart)
		if err != nil || !ok {
			return nil, fmt.Errorf("%w: counterpart wallet is not registered", ErrInvalidTarget)
		}
		target = id
	} else {
		targetAddr, err := g.deriver.Address(target)
		if err != nil {
			return nil, err
		}
		if targetAddr != booking.Student && targetAddr != booking.Tutor {
			return nil, fmt.Errorf("%w: booking %d", ErrInvalidTarget, bookingID)
		}
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		return nil, ErrEmptyComment
	}

	return g.store.SubmitReview(ctx, bearer, authsvc.ReviewSubmission{
		BookingID:    booking.FrontendID,
		ReviewerID:   reviewerID,
		TargetUserID: target,
		Comment:      comment,
		ReviewerType: reviewerType,
		Rating:       req.Rating,
	})
}

// ConfirmBookingReview locks in one party's review. Once both parties have
// confirmed, the missing outcome votes are cast as courseHeld=true so the
// escrow contract settles. Votes already recorded on chain are skipped.
func (g *Gate) ConfirmBookingReview(ctx context.Context, bearer string, bookingID uint64, reviewerID string) (*ConfirmReceipt, error) {
	booking, err := g.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	addr, err := g.deriver.Address(reviewerID)
	if err != nil {
		return nil, err
	}
	if addr != booking.Student && addr != booking.Tutor {
		return nil, fmt.Errorf("%w: booking %d", ErrNotParticipant, bookingID)
	}

	result, err := g.store.ConfirmReview(ctx, bearer, booking.FrontendID, reviewerID)
	if err != nil {
		return nil, err
	}

	if result.AllConfirmed() {
		g.settleBooking(ctx, bookingID, booking)
	}

	status := booking.Status.String()
	if fresh, err := g.bookings.Get(ctx, bookingID); err == nil {
		status = fresh.Status.String()
	}
	return &ConfirmReceipt{
		AllConfirmed: result.AllConfirmed(),
		ConfirmCount: result.ConfirmCount,
		Status:       status,
		Review:       result.Review,
	}, nil
}

// settleBooking casts the missing outcome votes. Each step is best effort:
// a failed vote is logged and the rest still go out.
func (g *Gate) settleBooking(ctx context.Context, bookingID uint64, booking escrow.Booking) {
	if g.now().Unix() < booking.StartTime {
		g.log.Warn("reviews confirmed before session start, deferring settlement",
			"booking_id", bookingID, "start_time", booking.StartTime)
		return
	}
	g.log.Info("both parties confirmed, settling booking", "booking_id", bookingID)

	parties := []struct {
		addr  common.Address
		voted bool
		role  string
	}{
		{booking.Student, booking.StudentConfirmed, "student"},
		{booking.Tutor, booking.TutorConfirmed, "tutor"},
	}
	for _, party := range parties {
		if party.voted {
			continue
		}
		userID, ok, err := g.registry.UserIDOf(ctx, party.addr)
		if err != nil || !ok {
			g.log.Warn("cannot resolve party wallet for outcome vote",
				"booking_id", bookingID, "role", party.role, "err", err)
			continue
		}
		if _, err := g.bookings.ConfirmOutcome(ctx, bookingID, userID, true); err != nil {
			g.log.Warn("outcome vote failed",
				"booking_id", bookingID, "role", party.role, "err", err)
		}
	}

	if tutorID, ok, err := g.registry.UserIDOf(ctx, booking.Tutor); err == nil && ok {
		g.recomputeRating(ctx, tutorID)
	}
}

func (g *Gate) recomputeRating(ctx context.Context, tutorID string) {
	if err := g.store.UpdateRating(ctx, tutorID); err != nil {
		g.log.Warn("rating recompute failed", "tutor_id", tutorID, "err", err)
	}
}

// BookingReviews lists the stored reviews for a booking.
func (g *Gate) BookingReviews(ctx context.Context, bookingID uint64) (*authsvc.ReviewList, error) {
	booking, err := g.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return g.store.Reviews(ctx, booking.FrontendID)
}

// ExchangeReviews lists the stored reviews for a skill exchange.
func (g *Gate) ExchangeReviews(ctx context.Context, exchangeID uint64) (*authsvc.ReviewList, error) {
	exch, err := g.exchanges.Get(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	return g.store.Reviews(ctx, exchangeReviewKey(exch))
}
