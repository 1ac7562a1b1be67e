package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferEvent is a decoded token movement from either the annotated
// EduTransfer event or the plain ERC-20 Transfer event.
type TransferEvent struct {
	From        common.Address
	To          common.Address
	AmountWei   *big.Int
	Description string
	// Timestamp is the contract-recorded time for EduTransfer events and
	// zero for plain transfers, whose time comes from the block header.
	Timestamp   uint64
	Annotated   bool
	TxHash      common.Hash
	BlockNumber uint64
}

// TransferLogs collects every token movement touching the account, in both
// directions and across both event types. Plain Transfer duplicates of an
// annotated EduTransfer in the same transaction are left for the caller to
// collapse.
func (g *Gateway) TransferLogs(ctx context.Context, account common.Address, fromBlock, toBlock uint64) ([]TransferEvent, error) {
	accountTopic := common.BytesToHash(common.LeftPadBytes(account.Bytes(), 32))
	eduID := g.token.ABI.Events["EduTransfer"].ID
	transferID := g.token.ABI.Events["Transfer"].ID

	queries := []struct {
		event  common.Hash
		topics [][]common.Hash
	}{
		{eduID, [][]common.Hash{{eduID}, {accountTopic}}},
		{eduID, [][]common.Hash{{eduID}, nil, {accountTopic}}},
		{transferID, [][]common.Hash{{transferID}, {accountTopic}}},
		{transferID, [][]common.Hash{{transferID}, nil, {accountTopic}}},
	}

	var events []TransferEvent
	for _, q := range queries {
		logs, err := g.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(fromBlock),
			ToBlock:   new(big.Int).SetUint64(toBlock),
			Addresses: []common.Address{g.token.Address},
			Topics:    q.topics,
		})
		if err != nil {
			return nil, fmt.Errorf("filter token logs: %w", err)
		}
		for i := range logs {
			decoded, err := g.decodeTransferLog(&logs[i])
			if err != nil {
				g.log.Warn("skipping undecodable token log", "tx", logs[i].TxHash.Hex(), "err", err)
				continue
			}
			events = append(events, decoded)
		}
	}
	return events, nil
}

func (g *Gateway) decodeTransferLog(entry *types.Log) (TransferEvent, error) {
	if len(entry.Topics) != 3 {
		return TransferEvent{}, fmt.Errorf("unexpected topic count %d", len(entry.Topics))
	}
	event := TransferEvent{
		From:        common.BytesToAddress(entry.Topics[1].Bytes()),
		To:          common.BytesToAddress(entry.Topics[2].Bytes()),
		TxHash:      entry.TxHash,
		BlockNumber: entry.BlockNumber,
	}
	switch entry.Topics[0] {
	case g.token.ABI.Events["EduTransfer"].ID:
		values, err := g.token.ABI.Events["EduTransfer"].Inputs.NonIndexed().Unpack(entry.Data)
		if err != nil {
			return TransferEvent{}, err
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			return TransferEvent{}, fmt.Errorf("EduTransfer amount is not uint256")
		}
		description, ok := values[1].(string)
		if !ok {
			return TransferEvent{}, fmt.Errorf("EduTransfer description is not string")
		}
		timestamp, ok := values[2].(*big.Int)
		if !ok {
			return TransferEvent{}, fmt.Errorf("EduTransfer timestamp is not uint256")
		}
		event.AmountWei = amount
		event.Description = description
		event.Timestamp = timestamp.Uint64()
		event.Annotated = true
	case g.token.ABI.Events["Transfer"].ID:
		values, err := g.token.ABI.Events["Transfer"].Inputs.NonIndexed().Unpack(entry.Data)
		if err != nil {
			return TransferEvent{}, err
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			return TransferEvent{}, fmt.Errorf("Transfer value is not uint256")
		}
		event.AmountWei = amount
	default:
		return TransferEvent{}, fmt.Errorf("unknown event topic %s", entry.Topics[0].Hex())
	}
	return event, nil
}
