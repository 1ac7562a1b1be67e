package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"educhain/crypto"
	"educhain/ident"
)

// Gas limits per token operation, sized to the deployed contract.
const (
	gasRegisterWallet = 200_000
	gasMintInitial    = 100_000
	gasTransfer       = 100_000
	gasApprove        = 100_000
)

// InitialGrantWei is the one-time token grant minted to every freshly
// registered wallet: 600 EDU.
var InitialGrantWei = new(big.Int).Mul(big.NewInt(600), new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil))

// BalanceOf returns the token balance of an account in wei.
func (g *Gateway) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.CallUint(ctx, g.token, "balanceOf", account)
}

// TokenOwner reads the owner account registered on the token contract.
func (g *Gateway) TokenOwner(ctx context.Context) (common.Address, error) {
	out, err := g.Call(ctx, g.token, "owner")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: token owner output is not an address")
	}
	return addr, nil
}

// WalletAddressOf resolves a user identifier to its registered wallet
// address. The zero address means the user is not registered.
func (g *Gateway) WalletAddressOf(ctx context.Context, userID ident.ChainID) (common.Address, error) {
	out, err := g.Call(ctx, g.token, "getWalletAddress", [32]byte(userID))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: getWalletAddress output is not an address")
	}
	return addr, nil
}

// UserIDOf performs the reverse lookup from wallet address to user
// identifier. ok is false for unregistered addresses.
func (g *Gateway) UserIDOf(ctx context.Context, account common.Address) (string, bool, error) {
	out, err := g.Call(ctx, g.token, "getUserId", account)
	if err != nil {
		return "", false, err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return "", false, fmt.Errorf("chain: getUserId output is not bytes32")
	}
	id, ok := ident.FromChainID(ident.ChainID(raw))
	return id, ok, nil
}

// HasInitialBalance reports whether an account already received its initial
// token grant.
func (g *Gateway) HasInitialBalance(ctx context.Context, account common.Address) (bool, error) {
	out, err := g.Call(ctx, g.token, "hasInitialBalance", account)
	if err != nil {
		return false, err
	}
	granted, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: hasInitialBalance output is not bool")
	}
	return granted, nil
}

// RegisterWallet binds a user identifier to a wallet address. Only the owner
// account may call this on the contract.
func (g *Gateway) RegisterWallet(ctx context.Context, userID ident.ChainID, account common.Address) (*Submission, error) {
	sub, err := g.Submit(ctx, g.owner, g.token, "registerWallet",
		SubmitOpts{GasLimit: gasRegisterWallet}, [32]byte(userID), account)
	if err != nil {
		return nil, err
	}
	g.metrics.ObserveWalletRegistration()
	return sub, nil
}

// MintInitialTokens grants the initial token balance to a wallet. Skips the
// mint when the wallet was already funded.
func (g *Gateway) MintInitialTokens(ctx context.Context, account common.Address) (*Submission, error) {
	granted, err := g.HasInitialBalance(ctx, account)
	if err != nil {
		return nil, err
	}
	if granted {
		return nil, nil
	}
	return g.Submit(ctx, g.owner, g.token, "mintInitialTokens",
		SubmitOpts{GasLimit: gasMintInitial}, account, InitialGrantWei)
}

// Approve lets spender move amountWei of the sender's tokens. The nonce may
// be pinned so a dependent write can reserve the following one.
func (g *Gateway) Approve(ctx context.Context, key *crypto.PrivateKey, spender common.Address, amountWei *big.Int, nonce *uint64) (*Submission, error) {
	return g.Submit(ctx, key, g.token, "approve",
		SubmitOpts{GasLimit: gasApprove, Nonce: nonce}, spender, amountWei)
}

// Transfer moves tokens between wallets, attaching a description that the
// contract emits in its EduTransfer event. The sender's gas funding and
// token balance are verified before submission.
func (g *Gateway) Transfer(ctx context.Context, key *crypto.PrivateKey, to common.Address, amountWei *big.Int, description string) (*Submission, error) {
	from := key.PubKey().Address()
	balance, err := g.BalanceOf(ctx, from)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amountWei) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance.String(), amountWei.String())
	}
	if err := g.EnsureGasFunds(ctx, from, gasTransfer); err != nil {
		return nil, err
	}
	if description == "" {
		return g.Submit(ctx, key, g.token, "transfer",
			SubmitOpts{GasLimit: gasTransfer}, to, amountWei)
	}
	return g.Submit(ctx, key, g.token, "transferWithDescription",
		SubmitOpts{GasLimit: gasTransfer}, to, amountWei, description)
}
