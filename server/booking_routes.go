package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"educhain/escrow"
	"educhain/reputation"
)

type createBookingRequest struct {
	TutorID     string  `json:"tutorId"`
	Amount      float64 `json:"amount"`
	StartTime   int64   `json:"startTime"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	Duration    int64   `json:"duration"`
	Description string  `json:"description"`
}

// startTimestamp accepts either a unix timestamp or the legacy split
// date/time fields.
func (req *createBookingRequest) startTimestamp() (int64, error) {
	if req.StartTime > 0 {
		return req.StartTime, nil
	}
	parsed, err := time.Parse("2006-01-02T15:04", req.Date+"T"+req.Time)
	if err != nil {
		return 0, fmt.Errorf("invalid date/time: %w", err)
	}
	return parsed.Unix(), nil
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	start, err := req.startTimestamp()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("amount must be positive"))
		return
	}
	duration := req.Duration
	if duration == 0 {
		duration = 60
	}
	description := req.Description
	if description == "" {
		description = "Session de tutorat"
	}

	receipt, err := s.bookings.Create(r.Context(), escrow.CreateRequest{
		StudentID:   caller(r),
		TutorID:     req.TutorID,
		Amount:      req.Amount,
		StartTime:   start,
		Duration:    duration,
		Description: description,
		FrontendID:  uuid.NewString(),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, "booking created, funds held in escrow", receipt)
}

// resolveBooking maps the frontend uuid in the route to the contract id.
func (s *Server) resolveBooking(r *http.Request) (uint64, error) {
	return s.bookings.ResolveFrontendID(r.Context(), chi.URLParam(r, "id"))
}

// bookingActionView is the lifecycle answer enriched with fresh chain state.
type bookingActionView struct {
	ID               string `json:"id"`
	BlockchainID     uint64 `json:"blockchainId"`
	Status           string `json:"status"`
	Outcome          string `json:"outcome,omitempty"`
	StudentConfirmed bool   `json:"studentConfirmed"`
	TutorConfirmed   bool   `json:"tutorConfirmed"`
	TxHash           string `json:"transactionHash"`
}

func (s *Server) bookingActionResponse(r *http.Request, bookingID uint64, receipt *escrow.ActionReceipt) bookingActionView {
	view := bookingActionView{
		ID:           chi.URLParam(r, "id"),
		BlockchainID: bookingID,
		Status:       receipt.Status,
		TxHash:       receipt.TxHash,
	}
	if booking, err := s.bookings.Get(r.Context(), bookingID); err == nil {
		view.Status = booking.Status.String()
		view.Outcome = booking.Outcome.String()
		view.StudentConfirmed = booking.StudentConfirmed
		view.TutorConfirmed = booking.TutorConfirmed
	}
	return view
}

func (s *Server) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := s.resolveBooking(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	receipt, err := s.bookings.Confirm(r.Context(), bookingID, caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "booking confirmed by tutor", s.bookingActionResponse(r, bookingID, receipt))
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := s.resolveBooking(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	receipt, err := s.bookings.Reject(r.Context(), bookingID, caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "booking cancelled, student refunded", s.bookingActionResponse(r, bookingID, receipt))
}

type confirmOutcomeRequest struct {
	CourseHeld *bool `json:"courseHeld"`
}

func (s *Server) handleConfirmOutcome(w http.ResponseWriter, r *http.Request) {
	var req confirmOutcomeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CourseHeld == nil {
		writeError(w, http.StatusBadRequest, errors.New("courseHeld is required"))
		return
	}
	bookingID, err := s.resolveBooking(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	booking, err := s.bookings.Get(r.Context(), bookingID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if time.Now().Unix() < booking.StartTime {
		writeError(w, http.StatusBadRequest,
			fmt.Errorf("course has not started yet (starts at %s)", time.Unix(booking.StartTime, 0).UTC().Format(time.RFC3339)))
		return
	}

	receipt, err := s.bookings.ConfirmOutcome(r.Context(), bookingID, caller(r), *req.CourseHeld)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "outcome vote recorded", s.bookingActionResponse(r, bookingID, receipt))
}

func (s *Server) handleBookingDetails(w http.ResponseWriter, r *http.Request) {
	bookingID, err := s.resolveBooking(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	booking, err := s.bookings.Get(r.Context(), bookingID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	now := time.Now().Unix()
	writeData(w, http.StatusOK, "booking retrieved", map[string]any{
		"booking":           booking,
		"status":            booking.Status.String(),
		"outcome":           booking.Outcome.String(),
		"canConfirmOutcome": booking.Status == escrow.StatusConfirmed && now >= booking.StartTime,
		"canCancel":         booking.Status == escrow.StatusPending || booking.Status == escrow.StatusConfirmed,
	})
}

func (s *Server) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.bookings.ForStudent(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "bookings retrieved", bookings)
}

func (s *Server) handleTutorBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.bookings.ForTutor(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "bookings retrieved", bookings)
}

func (s *Server) handleSubmitBookingReview(w http.ResponseWriter, r *http.Request) {
	var req reputation.ReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bookingID, err := s.resolveBooking(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	review, err := s.reviews.SubmitBookingReview(r.Context(), r.Header.Get("Authorization"), bookingID, caller(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "review saved, awaiting confirmation", review)
}

func (s *Server) handleConfirmBookingReview(w http.ResponseWriter, r *http.Request) {
	bookingID, err := s.resolveBooking(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	receipt, err := s.reviews.ConfirmBookingReview(r.Context(), r.Header.Get("Authorization"), bookingID, caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "review confirmed irreversibly", receipt)
}

func (s *Server) handleBookingReviews(w http.ResponseWriter, r *http.Request) {
	bookingID, err := s.resolveBooking(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	reviews, err := s.reviews.BookingReviews(r.Context(), bookingID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "reviews retrieved", reviews)
}
