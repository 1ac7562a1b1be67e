// Package history projects token movements, escrow bookings and skill
// exchanges into the unified transaction feed the frontend renders. The
// chain is the only source of truth; nothing here is persisted.
package history

import (
	"strings"
	"time"

	"educhain/authsvc"
	"educhain/escrow"
)

// RecordType classifies a feed entry.
type RecordType string

const (
	TypeTransfer      RecordType = "TRANSFER"
	TypeBooking       RecordType = "BOOKING"
	TypeSkillExchange RecordType = "SKILL_EXCHANGE"
)

// RecordStatus is the frontend-facing settlement state of a feed entry.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusCompleted RecordStatus = "completed"
	StatusCancelled RecordStatus = "cancelled"
)

// LedgerBlock locates an entry on chain. Virtual entries carry none.
type LedgerBlock struct {
	Number    uint64 `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// WalletInfo decorates an address with the directory profile behind it,
// when one is registered.
type WalletInfo struct {
	ID            string        `json:"id"`
	WalletAddress string        `json:"walletAddress"`
	User          *authsvc.User `json:"user"`
}

// BookingMetadata enriches BOOKING entries.
type BookingMetadata struct {
	BookingID uint64 `json:"bookingId"`
	TutorID   string `json:"tutorId,omitempty"`
	TutorName string `json:"tutorName,omitempty"`
	StudentID string `json:"studentId,omitempty"`
	StartTime int64  `json:"startTime,omitempty"`
	Duration  int64  `json:"duration,omitempty"`
}

// ExchangeMetadata enriches SKILL_EXCHANGE entries.
type ExchangeMetadata struct {
	ExchangeID     uint64 `json:"exchangeId"`
	StudentID      string `json:"studentId"`
	TutorID        string `json:"tutorId"`
	SkillOffered   string `json:"skillOffered"`
	SkillRequested string `json:"skillRequested"`
	Status         string `json:"status"`
	FrontendID     string `json:"frontendId"`
}

// Record is one entry in the transaction feed. From/To hold wallet
// addresses for on-chain entries and user identifiers for virtual ones.
type Record struct {
	ID          string       `json:"id"`
	FromID      string       `json:"fromWalletId"`
	ToID        string       `json:"toWalletId"`
	Amount      float64      `json:"amount"`
	Fee         float64      `json:"fee"`
	Type        RecordType   `json:"transactionType"`
	Status      RecordStatus `json:"status"`
	Description string       `json:"description"`
	Metadata    any          `json:"metadata,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	FromWallet  *WalletInfo  `json:"fromWallet,omitempty"`
	ToWallet    *WalletInfo  `json:"toWallet,omitempty"`
	LedgerBlock *LedgerBlock `json:"ledgerBlock,omitempty"`
}

// Virtual reports whether the entry was synthesized for display rather
// than decoded from a token movement. Virtual entries never count toward
// wallet statistics.
func (r Record) Virtual() bool {
	return strings.HasSuffix(r.ID, "_tutor") || strings.HasPrefix(r.ID, "booking_") || strings.HasPrefix(r.ID, "skill_exchange_")
}

// recordStatus maps a booking's contract state onto the feed status: money
// stays "pending" until the outcome vote settles it.
func recordStatus(s escrow.Status) RecordStatus {
	switch s {
	case escrow.StatusPending, escrow.StatusConfirmed:
		return StatusPending
	case escrow.StatusCancelled:
		return StatusCancelled
	default:
		return StatusCompleted
	}
}

// exchangeStatus maps an exchange's contract state onto the feed status.
func exchangeStatus(s string) RecordStatus {
	if s == "PENDING" || s == "ACCEPTED" {
		return StatusPending
	}
	return StatusCompleted
}
