// Package escrow coordinates booking settlement between student and tutor
// wallets through the on-chain escrow contract: funds are locked at booking
// time and released or refunded once both parties vote on the outcome.
package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"educhain/chain"
	"educhain/ident"
)

var (
	// ErrApprovalFailed indicates the token allowance grant failed, so the
	// booking creation was never attempted.
	ErrApprovalFailed = errors.New("escrow: token approval failed")

	// ErrBookingNotFound reports a booking id the contract does not know.
	ErrBookingNotFound = errors.New("escrow: booking not found")

	// ErrBookingIDUnresolved means the creation transaction confirmed but
	// its receipt carried no BookingCreated event and count fallback is
	// disabled. The booking exists on chain; only its id is unknown.
	ErrBookingIDUnresolved = errors.New("escrow: booking created but id could not be resolved from receipt")

	// ErrUnauthorized reports a caller who is not a party to the booking.
	ErrUnauthorized = errors.New("escrow: caller is not a party to this booking")
)

// Status is the escrow contract's booking lifecycle state.
type Status uint8

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusCancelled
	StatusCompleted
	StatusDisputed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusDisputed:
		return "DISPUTED"
	}
	return "UNKNOWN"
}

// Outcome is the two-party vote result on whether the course took place.
type Outcome uint8

const (
	OutcomeNotDecided Outcome = iota
	OutcomeCourseHeld
	OutcomeCourseNotHeld
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotDecided:
		return "NOT_DECIDED"
	case OutcomeCourseHeld:
		return "COURSE_HELD"
	case OutcomeCourseNotHeld:
		return "COURSE_NOT_HELD"
	}
	return "UNKNOWN"
}

// Booking mirrors the escrow contract's booking record.
type Booking struct {
	ID               uint64         `json:"blockchainId"`
	FrontendID       string         `json:"frontendId"`
	Student          common.Address `json:"studentAddress"`
	Tutor            common.Address `json:"tutorAddress"`
	Amount           float64        `json:"amount"`
	StartTime        int64          `json:"startTime"`
	Duration         int64          `json:"duration"`
	Status           Status         `json:"-"`
	Outcome          Outcome        `json:"-"`
	CreatedAt        int64          `json:"createdAt"`
	StudentConfirmed bool           `json:"studentConfirmed"`
	TutorConfirmed   bool           `json:"tutorConfirmed"`
	Description      string         `json:"description"`
}

// bookingFromOutputs decodes the 13 positional outputs of getBooking.
func bookingFromOutputs(out []any) (Booking, error) {
	if len(out) != 13 {
		return Booking{}, fmt.Errorf("escrow: getBooking returned %d outputs, want 13", len(out))
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: booking id is not uint256")
	}
	student, ok := out[1].(common.Address)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: student is not an address")
	}
	tutor, ok := out[2].(common.Address)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: tutor is not an address")
	}
	amount, ok := out[3].(*big.Int)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: amount is not uint256")
	}
	startTime, ok := out[4].(*big.Int)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: startTime is not uint256")
	}
	duration, ok := out[5].(*big.Int)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: duration is not uint256")
	}
	status, ok := out[6].(uint8)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: status is not uint8")
	}
	outcome, ok := out[7].(uint8)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: outcome is not uint8")
	}
	createdAt, ok := out[8].(*big.Int)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: createdAt is not uint256")
	}
	studentConfirmed, ok := out[9].(bool)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: studentConfirmed is not bool")
	}
	tutorConfirmed, ok := out[10].(bool)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: tutorConfirmed is not bool")
	}
	description, ok := out[11].(string)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: description is not string")
	}
	rawFrontend, ok := out[12].([32]byte)
	if !ok {
		return Booking{}, fmt.Errorf("escrow: frontendId is not bytes32")
	}

	frontendID, ok := ident.FromChainID(ident.ChainID(rawFrontend))
	if !ok {
		frontendID = common.Bytes2Hex(rawFrontend[:])
	}
	return Booking{
		ID:               id.Uint64(),
		FrontendID:       frontendID,
		Student:          student,
		Tutor:            tutor,
		Amount:           chain.FromWei(amount),
		StartTime:        startTime.Int64(),
		Duration:         duration.Int64(),
		Status:           Status(status),
		Outcome:          Outcome(outcome),
		CreatedAt:        createdAt.Int64(),
		StudentConfirmed: studentConfirmed,
		TutorConfirmed:   tutorConfirmed,
		Description:      description,
	}, nil
}
