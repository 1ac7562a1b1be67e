package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"educhain/crypto"
)

// defaultGasLimit bounds writes whose caller supplied no explicit limit.
const defaultGasLimit = 200_000

// estimateHeadroom is added on top of a node gas estimate; contracts that
// branch on state can use more gas at execution time than at estimation time.
const estimateHeadroom = 50_000

// SubmitOpts tunes a single signed write.
type SubmitOpts struct {
	// GasLimit caps execution. When Estimate is set it becomes the fallback
	// used if the node refuses to estimate.
	GasLimit uint64

	// Nonce pins the transaction nonce. Leave nil to read the sender's
	// pending nonce. Callers issuing dependent writes from one sender must
	// pin consecutive nonces themselves.
	Nonce *uint64

	// Estimate asks the node for a gas estimate and applies 20% headroom
	// plus a fixed margin.
	Estimate bool

	Value *big.Int
}

// Submission reports a confirmed write.
type Submission struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Logs        []*types.Log
}

// Submit packs, signs, sends and confirms a state-changing contract call.
// It returns only after the transaction is mined; a receipt with a failed
// status becomes a *TxRevertedError and a missing receipt after the
// confirmation window becomes ErrConfirmationTimeout.
func (g *Gateway) Submit(ctx context.Context, key *crypto.PrivateKey, c Contract, method string, opts SubmitOpts, args ...any) (*Submission, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", c.Name, method, err)
	}
	from := key.PubKey().Address()

	nonce := uint64(0)
	if opts.Nonce != nil {
		nonce = *opts.Nonce
	} else if nonce, err = g.backend.PendingNonceAt(ctx, from); err != nil {
		return nil, fmt.Errorf("pending nonce for %s: %w", from.Hex(), err)
	}

	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	if opts.Estimate {
		estimated, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &c.Address,
			Value: opts.Value,
			Data:  data,
		})
		if err != nil {
			g.log.Warn("gas estimation failed, using fallback limit",
				"contract", c.Name, "method", method, "fallback", gasLimit, "err", err)
		} else {
			gasLimit = estimated + estimated/5 + estimateHeadroom
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &c.Address,
		Value:    opts.Value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, g.signer, key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign %s.%s: %w", c.Name, method, err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send %s.%s: %w", c.Name, method, err)
	}
	hash := signed.Hash()
	g.log.Info("transaction submitted",
		"contract", c.Name, "method", method, "tx", hash.Hex(), "nonce", nonce, "gas_limit", gasLimit)

	started := time.Now()
	receipt, err := g.waitReceipt(ctx, hash)
	if err != nil {
		g.metrics.ObserveSubmission(c.Name, method, "timeout")
		return nil, fmt.Errorf("confirm %s.%s tx %s: %w", c.Name, method, hash.Hex(), err)
	}
	g.metrics.ObserveConfirmationWait(time.Since(started).Seconds())

	if receipt.Status != types.ReceiptStatusSuccessful {
		g.metrics.ObserveSubmission(c.Name, method, "reverted")
		return nil, DiagnoseRevert(&TxRevertedError{Hash: hash, GasUsed: receipt.GasUsed})
	}
	g.metrics.ObserveSubmission(c.Name, method, "confirmed")
	g.log.Info("transaction confirmed",
		"contract", c.Name, "method", method, "tx", hash.Hex(),
		"block", receipt.BlockNumber.Uint64(), "gas_used", receipt.GasUsed)

	return &Submission{
		Hash:        hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Logs:        receipt.Logs,
	}, nil
}

func (g *Gateway) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.NewTimer(g.confirmTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(g.pollInterval)
	defer poll.Stop()

	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("query receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrConfirmationTimeout
		case <-poll.C:
		}
	}
}

// EventUint extracts a uint256 argument from the first receipt log matching
// the named contract event.
func (g *Gateway) EventUint(sub *Submission, c Contract, eventName, argName string) (*big.Int, error) {
	event, ok := c.ABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("chain: contract %s has no event %s", c.Name, eventName)
	}
	for _, entry := range sub.Logs {
		if entry == nil || entry.Address != c.Address || len(entry.Topics) == 0 || entry.Topics[0] != event.ID {
			continue
		}
		topicIndex := 1
		for _, input := range event.Inputs {
			if !input.Indexed {
				continue
			}
			if input.Name == argName {
				if topicIndex >= len(entry.Topics) {
					return nil, fmt.Errorf("chain: event %s log is missing topic for %s", eventName, argName)
				}
				return new(big.Int).SetBytes(entry.Topics[topicIndex].Bytes()), nil
			}
			topicIndex++
		}
		values, err := event.Inputs.NonIndexed().Unpack(entry.Data)
		if err != nil {
			return nil, fmt.Errorf("chain: unpack event %s: %w", eventName, err)
		}
		for i, input := range event.Inputs.NonIndexed() {
			if input.Name != argName {
				continue
			}
			value, ok := values[i].(*big.Int)
			if !ok {
				return nil, fmt.Errorf("chain: event %s argument %s is not uint256", eventName, argName)
			}
			return value, nil
		}
		return nil, fmt.Errorf("chain: event %s has no argument %s", eventName, argName)
	}
	return nil, ErrEventNotFound
}

// EnsureGasFunds tops up the account's native balance from the owner when it
// cannot cover the given gas budget at current prices. Token holders on this
// network never hold native coin themselves, so the service fronts gas ahead
// of every token-moving operation.
func (g *Gateway) EnsureGasFunds(ctx context.Context, account common.Address, gasBudget uint64) error {
	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	required := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasBudget))
	balance, err := g.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return fmt.Errorf("native balance of %s: %w", account.Hex(), err)
	}
	if balance.Cmp(required) >= 0 {
		return nil
	}

	ownerAddr := g.owner.PubKey().Address()
	nonce, err := g.backend.PendingNonceAt(ctx, ownerAddr)
	if err != nil {
		return fmt.Errorf("pending nonce for owner: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      21_000,
		To:       &account,
		Value:    g.gasTopUp,
	})
	signed, err := types.SignTx(tx, g.signer, g.owner.PrivateKey)
	if err != nil {
		return fmt.Errorf("sign gas top-up: %w", err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send gas top-up: %w", err)
	}
	receipt, err := g.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return fmt.Errorf("confirm gas top-up %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &TxRevertedError{Hash: signed.Hash(), GasUsed: receipt.GasUsed, Reason: "gas top-up reverted"}
	}
	g.metrics.ObserveGasTopUp()
	g.log.Info("gas top-up sent", "account", account.Hex(), "amount_wei", g.gasTopUp.String())
	return nil
}
