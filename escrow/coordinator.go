package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"educhain/chain"
	"educhain/crypto"
	"educhain/ident"
)

const (
	gasApprove       = 100_000
	gasCreateBooking = 800_000
	gasLifecycle     = 200_000
)

// gateway is the slice of chain.Gateway the coordinator uses.
type gateway interface {
	Escrow() chain.Contract
	AllowCountFallback() bool
	Call(ctx context.Context, c chain.Contract, method string, args ...any) ([]any, error)
	CallUint(ctx context.Context, c chain.Contract, method string, args ...any) (*big.Int, error)
	Submit(ctx context.Context, key *crypto.PrivateKey, c chain.Contract, method string, opts chain.SubmitOpts, args ...any) (*chain.Submission, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	Approve(ctx context.Context, key *crypto.PrivateKey, spender common.Address, amountWei *big.Int, nonce *uint64) (*chain.Submission, error)
	EnsureGasFunds(ctx context.Context, account common.Address, gasBudget uint64) error
	EventUint(sub *chain.Submission, c chain.Contract, eventName, argName string) (*big.Int, error)
}

// Coordinator drives the booking lifecycle against the escrow contract,
// signing with keys derived from user identifiers.
type Coordinator struct {
	gw      gateway
	deriver *crypto.Deriver
	log     *slog.Logger
}

func NewCoordinator(gw gateway, deriver *crypto.Deriver, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{gw: gw, deriver: deriver, log: log.With("component", "escrow")}
}

// CreateRequest carries the booking parameters.
type CreateRequest struct {
	StudentID   string
	TutorID     string
	Amount      float64
	StartTime   int64
	Duration    int64
	Description string
	FrontendID  string
}

// CreateReceipt reports a confirmed booking creation.
type CreateReceipt struct {
	BookingID   uint64         `json:"booking_id"`
	FrontendID  string         `json:"frontend_id"`
	TxHash      string         `json:"transaction_hash"`
	Student     common.Address `json:"student"`
	Tutor       common.Address `json:"tutor"`
	Amount      float64        `json:"amount"`
	BlockNumber uint64         `json:"block_number"`
	Status      string         `json:"status"`
}

// ActionReceipt reports a confirmed lifecycle transition.
type ActionReceipt struct {
	BookingID   uint64 `json:"booking_id"`
	TxHash      string `json:"transaction_hash"`
	Status      string `json:"status,omitempty"`
	CourseHeld  *bool  `json:"course_held,omitempty"`
	BlockNumber uint64 `json:"block_number"`
}

// Create locks the student's tokens and registers the booking. Two dependent
// writes go out from the student wallet: the allowance grant at the wallet's
// pending nonce and the booking creation at the next one. The second write
// is only attempted after the first confirms.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*CreateReceipt, error) {
	studentKey, studentAddr, err := c.deriver.Derive(req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("derive student wallet: %w", err)
	}
	_, tutorAddr, err := c.deriver.Derive(req.TutorID)
	if err != nil {
		return nil, fmt.Errorf("derive tutor wallet: %w", err)
	}
	frontendID, err := ident.ToChainID(req.FrontendID)
	if err != nil {
		return nil, fmt.Errorf("frontend booking id: %w", err)
	}
	amountWei := chain.ToWei(req.Amount)

	if err := c.gw.EnsureGasFunds(ctx, studentAddr, gasApprove+gasCreateBooking); err != nil {
		return nil, err
	}

	base, err := c.gw.PendingNonce(ctx, studentAddr)
	if err != nil {
		return nil, err
	}
	if _, err := c.gw.Approve(ctx, studentKey, c.gw.Escrow().Address, amountWei, &base); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrApprovalFailed, err)
	}

	next := base + 1
	sub, err := c.gw.Submit(ctx, studentKey, c.gw.Escrow(), "createBooking",
		chain.SubmitOpts{GasLimit: gasCreateBooking, Nonce: &next},
		tutorAddr, amountWei, big.NewInt(req.StartTime), big.NewInt(req.Duration),
		req.Description, [32]byte(frontendID))
	if err != nil {
		return nil, err
	}

	bookingID, err := c.resolveCreatedID(ctx, sub)
	if err != nil {
		return nil, err
	}
	c.log.Info("booking created",
		"booking_id", bookingID, "frontend_id", req.FrontendID, "tx", sub.Hash.Hex())

	return &CreateReceipt{
		BookingID:   bookingID,
		FrontendID:  req.FrontendID,
		TxHash:      sub.Hash.Hex(),
		Student:     studentAddr,
		Tutor:       tutorAddr,
		Amount:      req.Amount,
		BlockNumber: sub.BlockNumber,
		Status:      StatusPending.String(),
	}, nil
}

// resolveCreatedID reads the new booking id from the BookingCreated event.
// The count fallback races concurrent creations and only runs when enabled.
func (c *Coordinator) resolveCreatedID(ctx context.Context, sub *chain.Submission) (uint64, error) {
	id, err := c.gw.EventUint(sub, c.gw.Escrow(), "BookingCreated", "bookingId")
	if err == nil {
		return id.Uint64(), nil
	}
	if !errors.Is(err, chain.ErrEventNotFound) {
		return 0, err
	}
	if !c.gw.AllowCountFallback() {
		return 0, fmt.Errorf("%w: tx %s", ErrBookingIDUnresolved, sub.Hash.Hex())
	}
	c.log.Warn("BookingCreated event missing, resolving id from booking count", "tx", sub.Hash.Hex())
	count, err := c.gw.CallUint(ctx, c.gw.Escrow(), "getBookingCount")
	if err != nil {
		return 0, fmt.Errorf("%w: count fallback failed: %w", ErrBookingIDUnresolved, err)
	}
	if count.Sign() == 0 {
		return 0, fmt.Errorf("%w: booking count is zero", ErrBookingIDUnresolved)
	}
	return count.Uint64() - 1, nil
}

// Confirm accepts a pending booking on behalf of the tutor.
func (c *Coordinator) Confirm(ctx context.Context, bookingID uint64, tutorID string) (*ActionReceipt, error) {
	if err := c.requireRole(ctx, bookingID, tutorID, roleTutor); err != nil {
		return nil, err
	}
	sub, err := c.lifecycleCall(ctx, tutorID, "confirmBooking", new(big.Int).SetUint64(bookingID))
	if err != nil {
		return nil, err
	}
	return &ActionReceipt{
		BookingID:   bookingID,
		TxHash:      sub.Hash.Hex(),
		Status:      StatusConfirmed.String(),
		BlockNumber: sub.BlockNumber,
	}, nil
}

// Reject cancels a pending booking and refunds the student's deposit.
func (c *Coordinator) Reject(ctx context.Context, bookingID uint64, tutorID string) (*ActionReceipt, error) {
	if err := c.requireRole(ctx, bookingID, tutorID, roleTutor); err != nil {
		return nil, err
	}
	sub, err := c.lifecycleCall(ctx, tutorID, "rejectBooking", new(big.Int).SetUint64(bookingID))
	if err != nil {
		return nil, err
	}
	return &ActionReceipt{
		BookingID:   bookingID,
		TxHash:      sub.Hash.Hex(),
		Status:      StatusCancelled.String(),
		BlockNumber: sub.BlockNumber,
	}, nil
}

// ConfirmOutcome records the caller's vote on whether the course took place.
// Settlement is contract-side: once both parties vote the funds move, and a
// disagreement parks the booking in DISPUTED.
func (c *Coordinator) ConfirmOutcome(ctx context.Context, bookingID uint64, userID string, courseHeld bool) (*ActionReceipt, error) {
	if err := c.requireRole(ctx, bookingID, userID, roleAny); err != nil {
		return nil, err
	}
	sub, err := c.lifecycleCall(ctx, userID, "confirmCourseOutcome", new(big.Int).SetUint64(bookingID), courseHeld)
	if err != nil {
		return nil, err
	}
	return &ActionReceipt{
		BookingID:   bookingID,
		TxHash:      sub.Hash.Hex(),
		CourseHeld:  &courseHeld,
		BlockNumber: sub.BlockNumber,
	}, nil
}

type partyRole int

const (
	roleAny partyRole = iota
	roleTutor
)

// requireRole checks the caller's derived wallet against the booking record
// before any signed write goes out.
func (c *Coordinator) requireRole(ctx context.Context, bookingID uint64, userID string, role partyRole) error {
	addr, err := c.deriver.Address(userID)
	if err != nil {
		return err
	}
	booking, err := c.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	switch role {
	case roleTutor:
		if addr != booking.Tutor {
			return fmt.Errorf("%w: booking %d", ErrUnauthorized, bookingID)
		}
	default:
		if addr != booking.Student && addr != booking.Tutor {
			return fmt.Errorf("%w: booking %d", ErrUnauthorized, bookingID)
		}
	}
	return nil
}

func (c *Coordinator) lifecycleCall(ctx context.Context, userID, method string, args ...any) (*chain.Submission, error) {
	key, addr, err := c.deriver.Derive(userID)
	if err != nil {
		return nil, fmt.Errorf("derive wallet: %w", err)
	}
	if err := c.gw.EnsureGasFunds(ctx, addr, gasLifecycle); err != nil {
		return nil, err
	}
	return c.gw.Submit(ctx, key, c.gw.Escrow(), method, chain.SubmitOpts{GasLimit: gasLifecycle}, args...)
}

// Get reads a booking record.
func (c *Coordinator) Get(ctx context.Context, bookingID uint64) (Booking, error) {
	out, err := c.gw.Call(ctx, c.gw.Escrow(), "getBooking", new(big.Int).SetUint64(bookingID))
	if err != nil {
		return Booking{}, fmt.Errorf("%w: id %d: %w", ErrBookingNotFound, bookingID, err)
	}
	booking, err := bookingFromOutputs(out)
	if err != nil {
		return Booking{}, err
	}
	return booking, nil
}

// ResolveFrontendID maps a client-assigned booking identifier to the
// contract's numeric id.
func (c *Coordinator) ResolveFrontendID(ctx context.Context, frontendID string) (uint64, error) {
	id, err := ident.ToChainID(frontendID)
	if err != nil {
		return 0, err
	}
	numeric, err := c.gw.CallUint(ctx, c.gw.Escrow(), "getBookingByFrontendId", [32]byte(id))
	if err != nil {
		return 0, fmt.Errorf("%w: frontend id %s: %w", ErrBookingNotFound, frontendID, err)
	}
	return numeric.Uint64(), nil
}

// Count returns the total number of bookings ever created.
func (c *Coordinator) Count(ctx context.Context) (uint64, error) {
	count, err := c.gw.CallUint(ctx, c.gw.Escrow(), "getBookingCount")
	if err != nil {
		return 0, err
	}
	return count.Uint64(), nil
}

// ForStudent scans every booking and keeps those whose student wallet
// belongs to the user. Individual records that fail to decode are skipped.
func (c *Coordinator) ForStudent(ctx context.Context, studentID string) ([]Booking, error) {
	addr, err := c.deriver.Address(studentID)
	if err != nil {
		return nil, err
	}
	return c.scan(ctx, func(b Booking) bool { return b.Student == addr })
}

// ForTutor is the tutor-side counterpart of ForStudent.
func (c *Coordinator) ForTutor(ctx context.Context, tutorID string) ([]Booking, error) {
	addr, err := c.deriver.Address(tutorID)
	if err != nil {
		return nil, err
	}
	return c.scan(ctx, func(b Booking) bool { return b.Tutor == addr })
}

func (c *Coordinator) scan(ctx context.Context, keep func(Booking) bool) ([]Booking, error) {
	count, err := c.Count(ctx)
	if err != nil {
		return nil, err
	}
	bookings := make([]Booking, 0)
	for id := uint64(0); id < count; id++ {
		booking, err := c.Get(ctx, id)
		if err != nil {
			c.log.Debug("skipping unreadable booking", "booking_id", id, "err", err)
			continue
		}
		if keep(booking) {
			bookings = append(bookings, booking)
		}
	}
	return bookings, nil
}
