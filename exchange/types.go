// Package exchange manages skill-for-skill swaps: no tokens move, the
// contract only tracks the proposal lifecycle between two users.
package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"educhain/ident"
)

// ErrExchangeNotFound reports an exchange id the contract does not know.
var ErrExchangeNotFound = errors.New("exchange: exchange not found")

// Status is the skill exchange lifecycle state.
type Status uint8

const (
	StatusPending Status = iota
	StatusAccepted
	StatusRejected
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusRejected:
		return "REJECTED"
	case StatusCompleted:
		return "COMPLETED"
	}
	return "UNKNOWN"
}

// Exchange mirrors the skill exchange contract's record. Exchange ids are
// 1-based on the contract.
type Exchange struct {
	ID             uint64 `json:"id"`
	StudentID      string `json:"studentId"`
	TutorID        string `json:"tutorId"`
	SkillOffered   string `json:"skillOffered"`
	SkillRequested string `json:"skillRequested"`
	Status         Status `json:"-"`
	CreatedAt      int64  `json:"createdAt"`
	FrontendID     string `json:"frontendId"`
}

// exchangeFromOutputs decodes the 7 positional outputs of getExchange.
func exchangeFromOutputs(id uint64, out []any) (Exchange, error) {
	if len(out) != 7 {
		return Exchange{}, fmt.Errorf("exchange: getExchange returned %d outputs, want 7", len(out))
	}
	rawStudent, ok := out[0].([32]byte)
	if !ok {
		return Exchange{}, fmt.Errorf("exchange: studentId is not bytes32")
	}
	rawTutor, ok := out[1].([32]byte)
	if !ok {
		return Exchange{}, fmt.Errorf("exchange: tutorId is not bytes32")
	}
	skillOffered, ok := out[2].(string)
	if !ok {
		return Exchange{}, fmt.Errorf("exchange: skillOffered is not string")
	}
	skillRequested, ok := out[3].(string)
	if !ok {
		return Exchange{}, fmt.Errorf("exchange: skillRequested is not string")
	}
	status, ok := out[4].(uint8)
	if !ok {
		return Exchange{}, fmt.Errorf("exchange: status is not uint8")
	}
	createdAt, ok := out[5].(*big.Int)
	if !ok {
		return Exchange{}, fmt.Errorf("exchange: createdAt is not uint256")
	}
	rawFrontend, ok := out[6].([32]byte)
	if !ok {
		return Exchange{}, fmt.Errorf("exchange: frontendId is not bytes32")
	}

	studentID, _ := ident.FromChainID(ident.ChainID(rawStudent))
	tutorID, _ := ident.FromChainID(ident.ChainID(rawTutor))
	frontendID, _ := ident.FromChainID(ident.ChainID(rawFrontend))
	return Exchange{
		ID:             id,
		StudentID:      studentID,
		TutorID:        tutorID,
		SkillOffered:   skillOffered,
		SkillRequested: skillRequested,
		Status:         Status(status),
		CreatedAt:      createdAt.Int64(),
		FrontendID:     frontendID,
	}, nil
}
