// Package wallet exposes the user-facing funds operations: balance reads
// with register-on-first-use, token transfers, and the history and stats
// views projected from the ledger.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"educhain/authsvc"
	"educhain/chain"
	"educhain/crypto"
	"educhain/history"
	"educhain/ident"
)

// gasInitBudget sizes the native top-up granted during bulk initialization
// so a fresh wallet can cover its first few writes.
const gasInitBudget = 900_000

// gateway is the slice of chain.Gateway the wallet service uses.
type gateway interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	WalletAddressOf(ctx context.Context, userID ident.ChainID) (common.Address, error)
	RegisterWallet(ctx context.Context, userID ident.ChainID, account common.Address) (*chain.Submission, error)
	MintInitialTokens(ctx context.Context, account common.Address) (*chain.Submission, error)
	Transfer(ctx context.Context, key *crypto.PrivateKey, to common.Address, amountWei *big.Int, description string) (*chain.Submission, error)
	EnsureGasFunds(ctx context.Context, account common.Address, gasBudget uint64) error
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

type directory interface {
	User(ctx context.Context, userID string) (*authsvc.User, error)
	Users(ctx context.Context) ([]authsvc.User, error)
}

type projector interface {
	History(ctx context.Context, account common.Address, limit int, includeWalletInfo bool) ([]history.Record, error)
	Stats(ctx context.Context, userID string, account common.Address) (*history.StatsReport, error)
}

// Service ties the deterministic wallets to the token contract and the
// directory service.
type Service struct {
	gw      gateway
	deriver *crypto.Deriver
	users   directory
	ledger  projector
	log     *slog.Logger
}

func NewService(gw gateway, deriver *crypto.Deriver, users directory, ledger projector, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{gw: gw, deriver: deriver, users: users, ledger: ledger, log: log.With("component", "wallet")}
}

// Balance returns the user's funds view, registering the wallet on chain on
// first use. The user must exist in the directory.
func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	user, err := s.users.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	addr, err := s.ensureRegistered(ctx, userID)
	if err != nil {
		return nil, err
	}
	balanceWei, err := s.gw.BalanceOf(ctx, addr)
	if err != nil {
		return nil, err
	}
	available := chain.FromWei(balanceWei)
	return &Balance{
		User:      user,
		Available: available,
		Locked:    0,
		Total:     available,
		Address:   addr,
		KYCStatus: "verified",
	}, nil
}

// ensureRegistered derives the user's wallet and registers it on chain the
// first time it is seen, including the guarded initial token grant.
func (s *Service) ensureRegistered(ctx context.Context, userID string) (common.Address, error) {
	chainID, err := ident.ToChainID(userID)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := s.deriver.Address(userID)
	if err != nil {
		return common.Address{}, err
	}
	registered, err := s.gw.WalletAddressOf(ctx, chainID)
	if err != nil {
		return common.Address{}, err
	}
	if registered != (common.Address{}) {
		return addr, nil
	}
	if _, err := s.gw.RegisterWallet(ctx, chainID, addr); err != nil {
		return common.Address{}, fmt.Errorf("register wallet: %w", err)
	}
	if _, err := s.gw.MintInitialTokens(ctx, addr); err != nil {
		return common.Address{}, fmt.Errorf("initial token grant: %w", err)
	}
	s.log.Info("wallet registered on first use", "user_id", userID, "address", addr.Hex())
	return addr, nil
}

// Register puts the user's wallet on chain and grants the initial token
// allocation. Registering an already known wallet is not an error.
func (s *Service) Register(ctx context.Context, userID string) (*RegistrationReceipt, error) {
	user, err := s.users.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	chainID, err := ident.ToChainID(userID)
	if err != nil {
		return nil, err
	}
	addr, err := s.deriver.Address(userID)
	if err != nil {
		return nil, err
	}

	registered, err := s.gw.WalletAddressOf(ctx, chainID)
	if err != nil {
		return nil, err
	}
	receipt := &RegistrationReceipt{
		UserID:         userID,
		Email:          user.Email,
		Address:        addr,
		InitialBalance: chain.FromWei(chain.InitialGrantWei),
	}
	if registered != (common.Address{}) {
		receipt.AlreadyRegistered = true
	} else {
		sub, err := s.gw.RegisterWallet(ctx, chainID, addr)
		if err != nil {
			return nil, fmt.Errorf("register wallet: %w", err)
		}
		receipt.TxHash = sub.Hash.Hex()
		s.log.Info("wallet registered", "user_id", userID, "address", addr.Hex())
	}

	// The grant is guarded on chain, so replaying it is harmless.
	if _, err := s.gw.MintInitialTokens(ctx, addr); err != nil {
		return nil, fmt.Errorf("initial token grant: %w", err)
	}
	return receipt, nil
}

// Verify reports whether the user exists in the directory and whether the
// derived wallet is registered on chain.
func (s *Service) Verify(ctx context.Context, userID string) (*Verification, error) {
	user, err := s.users.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	chainID, err := ident.ToChainID(userID)
	if err != nil {
		return nil, err
	}
	addr, err := s.deriver.Address(userID)
	if err != nil {
		return nil, err
	}
	registered, err := s.gw.WalletAddressOf(ctx, chainID)
	if err != nil {
		return nil, err
	}
	balanceWei, err := s.gw.BalanceOf(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Verification{
		User:          user,
		Address:       addr,
		ExistsOnChain: registered != (common.Address{}),
		Balance:       chain.FromWei(balanceWei),
	}, nil
}

// Transfer moves tokens from the user's wallet to a raw recipient address.
// The submission preflights the token balance and tops up gas when needed.
func (s *Service) Transfer(ctx context.Context, fromUserID, toAddress string, amount float64, description string) (*TransferReceipt, error) {
	sender, err := s.users.User(ctx, fromUserID)
	if err != nil {
		return nil, err
	}
	to, err := parseRecipient(toAddress)
	if err != nil {
		return nil, err
	}
	key, fromAddr, err := s.deriver.Derive(fromUserID)
	if err != nil {
		return nil, err
	}

	sub, err := s.gw.Transfer(ctx, key, to, chain.ToWei(amount), description)
	if err != nil {
		return nil, err
	}

	receipt := &TransferReceipt{
		TxHash:      sub.Hash.Hex(),
		From:        fromAddr,
		To:          to,
		Amount:      amount,
		Description: description,
		BlockNumber: sub.BlockNumber,
		SenderName:  sender.FullName(),
	}
	if blockTime, err := s.gw.BlockTime(ctx, sub.BlockNumber); err == nil {
		receipt.BlockTimestamp = blockTime.Unix()
	}
	if balance, err := s.gw.BalanceOf(ctx, fromAddr); err == nil {
		receipt.SenderBalance = chain.FromWei(balance)
	}
	if balance, err := s.gw.BalanceOf(ctx, to); err == nil {
		receipt.RecipientBalance = chain.FromWei(balance)
	}
	return receipt, nil
}

// History returns the user's projected transaction history.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]history.Record, error) {
	if _, err := s.users.User(ctx, userID); err != nil {
		return nil, err
	}
	addr, err := s.deriver.Address(userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, addr, limit, true)
}

// Stats returns the user's aggregated flow statistics.
func (s *Service) Stats(ctx context.Context, userID string) (*history.StatsReport, error) {
	if _, err := s.users.User(ctx, userID); err != nil {
		return nil, err
	}
	addr, err := s.deriver.Address(userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Stats(ctx, userID, addr)
}

// InitializeAll registers a wallet for every directory user and tops up
// native gas funds. Failures are reported per user, never propagated.
func (s *Service) InitializeAll(ctx context.Context) ([]InitResult, error) {
	users, err := s.users.Users(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]InitResult, 0, len(users))
	for _, user := range users {
		result := InitResult{UserID: user.ID, Email: user.Email}
		receipt, err := s.Register(ctx, user.ID)
		if err != nil {
			s.log.Warn("wallet initialization failed", "user_id", user.ID, "err", err)
			result.Err = err.Error()
			results = append(results, result)
			continue
		}
		result.Address = receipt.Address
		result.TxHash = receipt.TxHash
		if err := s.gw.EnsureGasFunds(ctx, receipt.Address, gasInitBudget); err != nil {
			s.log.Warn("gas top-up failed during initialization", "user_id", user.ID, "err", err)
		}
		results = append(results, result)
	}
	s.log.Info("wallet initialization finished", "users", len(users))
	return results, nil
}

// parseRecipient accepts a hex address with or without the 0x prefix and
// rejects the zero address.
func parseRecipient(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && len(raw) == 40 {
		raw = "0x" + raw
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidRecipient)
	}
	return addr, nil
}
