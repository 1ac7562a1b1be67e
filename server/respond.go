package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"educhain/authsvc"
	"educhain/chain"
	"educhain/escrow"
	"educhain/exchange"
	"educhain/ident"
	"educhain/reputation"
	"educhain/wallet"
)

// response is the envelope every API answer uses.
type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, response{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeServiceError maps domain errors onto HTTP status codes: caller
// mistakes are 4xx, chain and upstream failures 5xx.
func writeServiceError(w http.ResponseWriter, err error) {
	var reverted *chain.TxRevertedError
	switch {
	case errors.Is(err, ident.ErrInvalidIdentifier),
		errors.Is(err, wallet.ErrInvalidRecipient),
		errors.Is(err, reputation.ErrEmptyComment),
		errors.Is(err, reputation.ErrInvalidTarget),
		errors.Is(err, chain.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, reputation.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, escrow.ErrBookingNotFound),
		errors.Is(err, exchange.ErrExchangeNotFound),
		errors.Is(err, authsvc.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, chain.ErrConfirmationTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.As(err, &reverted),
		errors.Is(err, escrow.ErrApprovalFailed),
		errors.Is(err, escrow.ErrBookingIDUnresolved),
		errors.Is(err, authsvc.ErrUpstream):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// decodeBody reads a bounded JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}
