package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"educhain/exchange"
	"educhain/reputation"
)

type createExchangeRequest struct {
	StudentID      string `json:"studentId"`
	TutorID        string `json:"tutorId"`
	SkillOffered   string `json:"skillOffered"`
	SkillRequested string `json:"skillRequested"`
	FrontendID     string `json:"frontendId"`
}

func (s *Server) handleCreateExchange(w http.ResponseWriter, r *http.Request) {
	var req createExchangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TutorID == "" {
		writeError(w, http.StatusBadRequest, errors.New("tutorId is required"))
		return
	}
	if req.SkillOffered == "" || req.SkillRequested == "" {
		writeError(w, http.StatusBadRequest, errors.New("skillOffered and skillRequested are required"))
		return
	}
	studentID := req.StudentID
	if studentID == "" {
		studentID = caller(r)
	}
	frontendID := req.FrontendID
	if frontendID == "" {
		frontendID = uuid.NewString()
	}

	receipt, err := s.exchanges.Create(r.Context(), exchange.CreateRequest{
		StudentID:      studentID,
		TutorID:        req.TutorID,
		SkillOffered:   req.SkillOffered,
		SkillRequested: req.SkillRequested,
		FrontendID:     frontendID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, "skill exchange proposed", receipt)
}

// exchangeParam parses the numeric contract id in the route.
func exchangeParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errors.New("exchange id must be a positive integer")
	}
	return id, nil
}

func (s *Server) handleAcceptExchange(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.exchanges.Accept(r.Context(), id, caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "exchange accepted", receipt)
}

func (s *Server) handleRejectExchange(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.exchanges.Reject(r.Context(), id, caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "exchange rejected", receipt)
}

func (s *Server) handleCompleteExchange(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.exchanges.Complete(r.Context(), id, caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "exchange completed", receipt)
}

func (s *Server) handleExchangeDetails(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	exch, err := s.exchanges.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "exchange retrieved", map[string]any{
		"exchange": exch,
		"status":   exch.Status.String(),
	})
}

func (s *Server) handleUserExchanges(w http.ResponseWriter, r *http.Request) {
	exchanges, err := s.exchanges.ForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "exchanges retrieved", exchanges)
}

func (s *Server) handleSubmitExchangeReview(w http.ResponseWriter, r *http.Request) {
	var req reputation.ReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	review, err := s.reviews.SubmitExchangeReview(r.Context(), r.Header.Get("Authorization"), id, caller(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "review saved, awaiting confirmation", review)
}

func (s *Server) handleConfirmExchangeReview(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.reviews.ConfirmExchangeReview(r.Context(), r.Header.Get("Authorization"), id, caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "review confirmed irreversibly", receipt)
}

func (s *Server) handleExchangeReviews(w http.ResponseWriter, r *http.Request) {
	id, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reviews, err := s.reviews.ExchangeReviews(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "reviews retrieved", reviews)
}
