package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

var errInvalidLimit = errors.New("limit must be between 1 and 100")

// queryOrCaller lets admin tooling pass an explicit userId while normal
// clients fall back to the token identity.
func queryOrCaller(r *http.Request) string {
	if id := r.URL.Query().Get("userId"); id != "" {
		return id
	}
	return caller(r)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.wallets.Balance(r.Context(), queryOrCaller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "balance retrieved", balance)
}

type transferRequest struct {
	ToWalletAddress string  `json:"toWalletAddress"`
	Amount          float64 `json:"amount"`
	Description     string  `json:"description"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	receipt, err := s.wallets.Transfer(r.Context(), queryOrCaller(r), req.ToWalletAddress, req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "transfer confirmed", receipt)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.wallets.Stats(r.Context(), queryOrCaller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "stats retrieved", stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = parsed
	}

	records, err := s.wallets.History(r.Context(), queryOrCaller(r), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Optional direction filter over the projected records.
	if kind := r.URL.Query().Get("transactionType"); kind == "incoming" || kind == "outgoing" {
		balance, err := s.wallets.Balance(r.Context(), queryOrCaller(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		address := balance.Address.Hex()
		filtered := records[:0]
		for _, record := range records {
			if (kind == "outgoing" && record.FromID == address) ||
				(kind == "incoming" && record.ToID == address) {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}

	writeData(w, http.StatusOK, "history retrieved", map[string]any{
		"transactions": records,
		"total":        len(records),
	})
}

func (s *Server) handleRegisterWallet(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.wallets.Register(r.Context(), queryOrCaller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "wallet registered", receipt)
}

func (s *Server) handleVerifyUser(w http.ResponseWriter, r *http.Request) {
	verification, err := s.wallets.Verify(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, "user verified", verification)
}
