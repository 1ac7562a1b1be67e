package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrConfirmationTimeout indicates a submitted transaction was not mined
	// within the configured confirmation window. The transaction may still
	// land later; callers must treat the operation as unresolved.
	ErrConfirmationTimeout = errors.New("chain: transaction confirmation timed out")

	// ErrInsufficientBalance is returned before submission when the sender's
	// token balance cannot cover the requested amount.
	ErrInsufficientBalance = errors.New("chain: insufficient token balance")

	// ErrEventNotFound indicates a receipt carried none of the expected
	// contract events.
	ErrEventNotFound = errors.New("chain: expected event not found in receipt")
)

// TxRevertedError reports a mined transaction whose receipt status was not
// success. GasUsed is kept because an early revert (well under the intrinsic
// cost of the call body) usually means a failed contract precondition rather
// than out-of-gas.
type TxRevertedError struct {
	Hash    common.Hash
	GasUsed uint64
	Reason  string
}

func (e *TxRevertedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("chain: transaction %s reverted: %s (gas used %d)", e.Hash.Hex(), e.Reason, e.GasUsed)
	}
	return fmt.Sprintf("chain: transaction %s reverted (gas used %d)", e.Hash.Hex(), e.GasUsed)
}

// earlyRevertGas is the threshold below which a revert is attributed to a
// failed precondition (for bookings, typically a start time already in the
// past) instead of execution running out of gas.
const earlyRevertGas = 50_000

// DiagnoseRevert annotates a TxRevertedError with a human-readable reason
// when the gas profile makes the cause clear.
func DiagnoseRevert(err error) error {
	var reverted *TxRevertedError
	if errors.As(err, &reverted) && reverted.Reason == "" && reverted.GasUsed < earlyRevertGas {
		reverted.Reason = "contract precondition failed, slot is likely in the past"
	}
	return err
}
