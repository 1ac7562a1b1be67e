package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract pairs a deployed address with its parsed ABI.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

const tokenABIJSON = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferWithDescription","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"description","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"registerWallet","stateMutability":"nonpayable","inputs":[{"name":"userId","type":"bytes32"},{"name":"walletAddress","type":"address"}],"outputs":[]},
  {"type":"function","name":"getWalletAddress","stateMutability":"view","inputs":[{"name":"userId","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getUserId","stateMutability":"view","inputs":[{"name":"wallet","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"mintInitialTokens","stateMutability":"nonpayable","inputs":[{"name":"walletAddress","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"hasInitialBalance","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}]},
  {"type":"event","name":"EduTransfer","anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"description","type":"string"},{"indexed":false,"name":"timestamp","type":"uint256"}]}
]`

const escrowABIJSON = `[
  {"type":"function","name":"createBooking","stateMutability":"nonpayable","inputs":[{"name":"tutor","type":"address"},{"name":"amount","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"duration","type":"uint256"},{"name":"description","type":"string"},{"name":"frontendId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"confirmBooking","stateMutability":"nonpayable","inputs":[{"name":"bookingId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"rejectBooking","stateMutability":"nonpayable","inputs":[{"name":"bookingId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"confirmCourseOutcome","stateMutability":"nonpayable","inputs":[{"name":"bookingId","type":"uint256"},{"name":"courseHeld","type":"bool"}],"outputs":[]},
  {"type":"function","name":"getBooking","stateMutability":"view","inputs":[{"name":"bookingId","type":"uint256"}],"outputs":[{"name":"id","type":"uint256"},{"name":"student","type":"address"},{"name":"tutor","type":"address"},{"name":"amount","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"duration","type":"uint256"},{"name":"status","type":"uint8"},{"name":"outcome","type":"uint8"},{"name":"createdAt","type":"uint256"},{"name":"studentConfirmed","type":"bool"},{"name":"tutorConfirmed","type":"bool"},{"name":"description","type":"string"},{"name":"frontendId","type":"bytes32"}]},
  {"type":"function","name":"getBookingByFrontendId","stateMutability":"view","inputs":[{"name":"frontendId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getBookingCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"BookingCreated","anonymous":false,"inputs":[{"indexed":true,"name":"bookingId","type":"uint256"},{"indexed":true,"name":"student","type":"address"},{"indexed":true,"name":"tutor","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"frontendId","type":"bytes32"}]}
]`

const exchangeABIJSON = `[
  {"type":"function","name":"createExchange","stateMutability":"nonpayable","inputs":[{"name":"studentId","type":"bytes32"},{"name":"tutorId","type":"bytes32"},{"name":"skillOffered","type":"string"},{"name":"skillRequested","type":"string"},{"name":"frontendId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"acceptExchange","stateMutability":"nonpayable","inputs":[{"name":"exchangeId","type":"uint256"},{"name":"tutorId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"rejectExchange","stateMutability":"nonpayable","inputs":[{"name":"exchangeId","type":"uint256"},{"name":"tutorId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"completeExchange","stateMutability":"nonpayable","inputs":[{"name":"exchangeId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getExchange","stateMutability":"view","inputs":[{"name":"exchangeId","type":"uint256"}],"outputs":[{"name":"studentId","type":"bytes32"},{"name":"tutorId","type":"bytes32"},{"name":"skillOffered","type":"string"},{"name":"skillRequested","type":"string"},{"name":"status","type":"uint8"},{"name":"createdAt","type":"uint256"},{"name":"frontendId","type":"bytes32"}]},
  {"type":"function","name":"getExchangeByFrontendId","stateMutability":"view","inputs":[{"name":"frontendId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getExchangeCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"ExchangeCreated","anonymous":false,"inputs":[{"indexed":true,"name":"exchangeId","type":"uint256"},{"indexed":true,"name":"studentId","type":"bytes32"},{"indexed":true,"name":"tutorId","type":"bytes32"},{"indexed":false,"name":"skillOffered","type":"string"},{"indexed":false,"name":"skillRequested","type":"string"},{"indexed":false,"name":"timestamp","type":"uint256"},{"indexed":false,"name":"frontendId","type":"bytes32"}]},
  {"type":"event","name":"ExchangeAccepted","anonymous":false,"inputs":[{"indexed":true,"name":"exchangeId","type":"uint256"},{"indexed":false,"name":"tutorId","type":"bytes32"},{"indexed":false,"name":"timestamp","type":"uint256"}]},
  {"type":"event","name":"ExchangeRejected","anonymous":false,"inputs":[{"indexed":true,"name":"exchangeId","type":"uint256"},{"indexed":false,"name":"tutorId","type":"bytes32"},{"indexed":false,"name":"timestamp","type":"uint256"}]},
  {"type":"event","name":"ExchangeCompleted","anonymous":false,"inputs":[{"indexed":true,"name":"exchangeId","type":"uint256"},{"indexed":false,"name":"timestamp","type":"uint256"}]}
]`

var (
	// TokenABI describes the EDU token contract surface used by the service.
	TokenABI = mustParseABI(tokenABIJSON)
	// EscrowABI describes the booking escrow contract.
	EscrowABI = mustParseABI(escrowABIJSON)
	// ExchangeABI describes the skill exchange contract.
	ExchangeABI = mustParseABI(exchangeABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
