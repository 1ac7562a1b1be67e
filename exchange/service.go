package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"educhain/chain"
	"educhain/crypto"
	"educhain/ident"
)

const (
	gasLifecycle = 200_000
	// gasCreateFallback bounds createExchange when the node refuses to
	// estimate; the call stores two strings and a struct.
	gasCreateFallback = 800_000
)

type gateway interface {
	Exchange() chain.Contract
	Call(ctx context.Context, c chain.Contract, method string, args ...any) ([]any, error)
	CallUint(ctx context.Context, c chain.Contract, method string, args ...any) (*big.Int, error)
	Submit(ctx context.Context, key *crypto.PrivateKey, c chain.Contract, method string, opts chain.SubmitOpts, args ...any) (*chain.Submission, error)
	EnsureGasFunds(ctx context.Context, account common.Address, gasBudget uint64) error
	Transfer(ctx context.Context, key *crypto.PrivateKey, to common.Address, amountWei *big.Int, description string) (*chain.Submission, error)
}

// Service drives the skill exchange contract on behalf of derived wallets.
type Service struct {
	gw      gateway
	deriver *crypto.Deriver
	log     *slog.Logger
}

func NewService(gw gateway, deriver *crypto.Deriver, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{gw: gw, deriver: deriver, log: log.With("component", "exchange")}
}

// CreateRequest carries a skill exchange proposal. Skill payloads are opaque
// JSON documents stored verbatim on the contract.
type CreateRequest struct {
	StudentID      string
	TutorID        string
	SkillOffered   string
	SkillRequested string
	FrontendID     string
}

// CreateReceipt reports a confirmed exchange creation.
type CreateReceipt struct {
	ExchangeID     uint64 `json:"exchangeId"`
	FrontendID     string `json:"frontendId"`
	TxHash         string `json:"transactionHash"`
	StudentID      string `json:"studentId"`
	TutorID        string `json:"tutorId"`
	SkillOffered   string `json:"skillOffered"`
	SkillRequested string `json:"skillRequested"`
	Status         string `json:"status"`
}

// ActionReceipt reports a confirmed lifecycle transition.
type ActionReceipt struct {
	ExchangeID uint64 `json:"exchangeId"`
	Status     string `json:"status"`
	TxHash     string `json:"transactionHash"`
}

// Create registers the proposal and resolves the new id through the
// contract's frontend-id index. Gas is estimated with headroom since the
// stored skill payloads vary in size.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateReceipt, error) {
	studentKey, studentAddr, err := s.deriver.Derive(req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("derive student wallet: %w", err)
	}
	studentID, err := ident.ToChainID(req.StudentID)
	if err != nil {
		return nil, err
	}
	tutorID, err := ident.ToChainID(req.TutorID)
	if err != nil {
		return nil, err
	}
	frontendID, err := ident.ToChainID(req.FrontendID)
	if err != nil {
		return nil, fmt.Errorf("frontend exchange id: %w", err)
	}

	if err := s.gw.EnsureGasFunds(ctx, studentAddr, gasCreateFallback); err != nil {
		return nil, err
	}
	sub, err := s.gw.Submit(ctx, studentKey, s.gw.Exchange(), "createExchange",
		chain.SubmitOpts{GasLimit: gasCreateFallback, Estimate: true},
		[32]byte(studentID), [32]byte(tutorID), req.SkillOffered, req.SkillRequested, [32]byte(frontendID))
	if err != nil {
		return nil, err
	}

	exchangeID, err := s.gw.CallUint(ctx, s.gw.Exchange(), "getExchangeByFrontendId", [32]byte(frontendID))
	if err != nil {
		return nil, fmt.Errorf("resolve exchange id: %w", err)
	}
	s.log.Info("skill exchange created",
		"exchange_id", exchangeID.Uint64(), "frontend_id", req.FrontendID, "tx", sub.Hash.Hex())

	s.recordProposalMarker(ctx, studentKey, studentAddr, req.SkillRequested)

	return &CreateReceipt{
		ExchangeID:     exchangeID.Uint64(),
		FrontendID:     req.FrontendID,
		TxHash:         sub.Hash.Hex(),
		StudentID:      req.StudentID,
		TutorID:        req.TutorID,
		SkillOffered:   req.SkillOffered,
		SkillRequested: req.SkillRequested,
		Status:         StatusPending.String(),
	}, nil
}

// recordProposalMarker writes a zero-amount self transfer so the proposal
// shows up in the student's transaction history. Best effort.
func (s *Service) recordProposalMarker(ctx context.Context, key *crypto.PrivateKey, addr common.Address, skillRequested string) {
	description := "Skill Exchange Request"
	var skill struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(skillRequested), &skill); err == nil && skill.Name != "" {
		description = "Skill Exchange Request: " + skill.Name
	}
	if _, err := s.gw.Transfer(ctx, key, addr, big.NewInt(0), description); err != nil {
		s.log.Warn("could not record exchange history marker", "err", err)
	}
}

// Accept lets the proposed tutor take the exchange.
func (s *Service) Accept(ctx context.Context, exchangeID uint64, tutorID string) (*ActionReceipt, error) {
	return s.tutorCall(ctx, exchangeID, tutorID, "acceptExchange", StatusAccepted)
}

// Reject lets the proposed tutor decline the exchange.
func (s *Service) Reject(ctx context.Context, exchangeID uint64, tutorID string) (*ActionReceipt, error) {
	return s.tutorCall(ctx, exchangeID, tutorID, "rejectExchange", StatusRejected)
}

func (s *Service) tutorCall(ctx context.Context, exchangeID uint64, tutorID, method string, next Status) (*ActionReceipt, error) {
	key, addr, err := s.deriver.Derive(tutorID)
	if err != nil {
		return nil, fmt.Errorf("derive tutor wallet: %w", err)
	}
	tutorChainID, err := ident.ToChainID(tutorID)
	if err != nil {
		return nil, err
	}
	if err := s.gw.EnsureGasFunds(ctx, addr, gasLifecycle); err != nil {
		return nil, err
	}
	sub, err := s.gw.Submit(ctx, key, s.gw.Exchange(), method,
		chain.SubmitOpts{GasLimit: gasLifecycle},
		new(big.Int).SetUint64(exchangeID), [32]byte(tutorChainID))
	if err != nil {
		return nil, err
	}
	return &ActionReceipt{ExchangeID: exchangeID, Status: next.String(), TxHash: sub.Hash.Hex()}, nil
}

// Complete marks an accepted exchange as done. Either party may call it.
func (s *Service) Complete(ctx context.Context, exchangeID uint64, userID string) (*ActionReceipt, error) {
	key, addr, err := s.deriver.Derive(userID)
	if err != nil {
		return nil, fmt.Errorf("derive wallet: %w", err)
	}
	if err := s.gw.EnsureGasFunds(ctx, addr, gasLifecycle); err != nil {
		return nil, err
	}
	sub, err := s.gw.Submit(ctx, key, s.gw.Exchange(), "completeExchange",
		chain.SubmitOpts{GasLimit: gasLifecycle}, new(big.Int).SetUint64(exchangeID))
	if err != nil {
		return nil, err
	}
	return &ActionReceipt{ExchangeID: exchangeID, Status: StatusCompleted.String(), TxHash: sub.Hash.Hex()}, nil
}

// Get reads one exchange record.
func (s *Service) Get(ctx context.Context, exchangeID uint64) (Exchange, error) {
	out, err := s.gw.Call(ctx, s.gw.Exchange(), "getExchange", new(big.Int).SetUint64(exchangeID))
	if err != nil {
		return Exchange{}, fmt.Errorf("%w: id %d: %w", ErrExchangeNotFound, exchangeID, err)
	}
	return exchangeFromOutputs(exchangeID, out)
}

// ForUser scans every exchange and keeps those where the user appears as
// student or tutor. Contract ids are 1-based.
func (s *Service) ForUser(ctx context.Context, userID string) ([]Exchange, error) {
	userChainID, err := ident.ToChainID(userID)
	if err != nil {
		return nil, err
	}
	normalized, ok := ident.FromChainID(userChainID)
	if !ok {
		return nil, ident.ErrInvalidIdentifier
	}
	count, err := s.gw.CallUint(ctx, s.gw.Exchange(), "getExchangeCount")
	if err != nil {
		return nil, err
	}

	exchanges := make([]Exchange, 0)
	for id := uint64(1); id <= count.Uint64(); id++ {
		exch, err := s.Get(ctx, id)
		if err != nil {
			s.log.Debug("skipping unreadable exchange", "exchange_id", id, "err", err)
			continue
		}
		if exch.StudentID == normalized || exch.TutorID == normalized {
			exchanges = append(exchanges, exch)
		}
	}
	return exchanges, nil
}
