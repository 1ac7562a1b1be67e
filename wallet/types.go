package wallet

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"educhain/authsvc"
)

// ErrInvalidRecipient reports a transfer destination that is not a usable
// wallet address.
var ErrInvalidRecipient = errors.New("wallet: invalid recipient address")

// Balance is the funds view returned to the wallet owner.
type Balance struct {
	User      *authsvc.User  `json:"user"`
	Available float64        `json:"available"`
	Locked    float64        `json:"locked"`
	Total     float64        `json:"total"`
	Address   common.Address `json:"walletAddress"`
	KYCStatus string         `json:"kycStatus"`
}

// RegistrationReceipt reports an on-chain wallet registration.
type RegistrationReceipt struct {
	UserID            string         `json:"userId"`
	Email             string         `json:"userEmail,omitempty"`
	Address           common.Address `json:"address"`
	TxHash            string         `json:"transactionHash,omitempty"`
	InitialBalance    float64        `json:"initialBalance"`
	AlreadyRegistered bool           `json:"alreadyRegistered"`
}

// Verification reports whether a user exists in the directory and on chain.
type Verification struct {
	User          *authsvc.User  `json:"user"`
	Address       common.Address `json:"address"`
	ExistsOnChain bool           `json:"existsOnChain"`
	Balance       float64        `json:"balance"`
}

// TransferReceipt reports a confirmed token transfer with post-transfer
// balances for both sides.
type TransferReceipt struct {
	TxHash           string         `json:"transactionHash"`
	From             common.Address `json:"from"`
	To               common.Address `json:"to"`
	Amount           float64        `json:"amount"`
	Description      string         `json:"description"`
	BlockNumber      uint64         `json:"blockNumber"`
	BlockTimestamp   int64          `json:"blockTimestamp"`
	SenderName       string         `json:"senderName"`
	SenderBalance    float64        `json:"senderBalance"`
	RecipientBalance float64        `json:"recipientBalance"`
}

// InitResult is the per-user outcome of a bulk wallet initialization.
type InitResult struct {
	UserID  string         `json:"userId"`
	Email   string         `json:"email,omitempty"`
	Address common.Address `json:"walletAddress,omitempty"`
	TxHash  string         `json:"transactionHash,omitempty"`
	Err     string         `json:"error,omitempty"`
}
