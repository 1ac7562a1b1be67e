package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"educhain/crypto"
	"educhain/observability/metrics"
)

const (
	defaultConfirmTimeout = 30 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
)

// defaultGasTopUpWei is 0.05 native coin, granted from the owner account
// before a token operation whenever the sender cannot cover gas.
var defaultGasTopUpWei = new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))

// Config wires a Gateway to the deployed contracts and the owner account.
type Config struct {
	ChainID         *big.Int
	TokenAddress    string
	EscrowAddress   string
	ExchangeAddress string

	// OwnerKey signs privileged calls: wallet registration, initial grants
	// and gas top-ups.
	OwnerKey *crypto.PrivateKey

	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	GasTopUpWei    *big.Int

	// AllowCountFallback permits resolving a freshly created booking or
	// exchange id from the contract's item count when the creation event is
	// missing from the receipt. The count read races concurrent creations,
	// so it is off unless explicitly enabled.
	AllowCountFallback bool

	Logger *slog.Logger
}

// Gateway mediates every contract interaction: read calls, signed writes
// with receipt confirmation, and log queries.
type Gateway struct {
	backend Backend
	chainID *big.Int
	signer  types.Signer

	token    Contract
	escrow   Contract
	exchange Contract

	owner              *crypto.PrivateKey
	confirmTimeout     time.Duration
	pollInterval       time.Duration
	gasTopUp           *big.Int
	allowCountFallback bool

	log     *slog.Logger
	metrics *metrics.SettlementMetrics
}

// NewGateway validates the contract wiring and returns a ready Gateway.
func NewGateway(backend Backend, cfg Config) (*Gateway, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain: backend required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain: positive chain id required")
	}
	if cfg.OwnerKey == nil {
		return nil, fmt.Errorf("chain: owner key required")
	}
	addresses := map[string]string{
		"token":    cfg.TokenAddress,
		"escrow":   cfg.EscrowAddress,
		"exchange": cfg.ExchangeAddress,
	}
	for name, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("chain: invalid %s contract address %q", name, addr)
		}
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.GasTopUpWei == nil || cfg.GasTopUpWei.Sign() <= 0 {
		cfg.GasTopUpWei = defaultGasTopUpWei
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		backend:            backend,
		chainID:            cfg.ChainID,
		signer:             types.NewEIP155Signer(cfg.ChainID),
		token:              Contract{Name: "token", Address: common.HexToAddress(cfg.TokenAddress), ABI: TokenABI},
		escrow:             Contract{Name: "escrow", Address: common.HexToAddress(cfg.EscrowAddress), ABI: EscrowABI},
		exchange:           Contract{Name: "exchange", Address: common.HexToAddress(cfg.ExchangeAddress), ABI: ExchangeABI},
		owner:              cfg.OwnerKey,
		confirmTimeout:     cfg.ConfirmTimeout,
		pollInterval:       cfg.PollInterval,
		gasTopUp:           cfg.GasTopUpWei,
		allowCountFallback: cfg.AllowCountFallback,
		log:                logger.With("component", "chain"),
		metrics:            metrics.Settlement(),
	}, nil
}

// Token returns the EDU token contract binding.
func (g *Gateway) Token() Contract { return g.token }

// Escrow returns the booking escrow contract binding.
func (g *Gateway) Escrow() Contract { return g.escrow }

// Exchange returns the skill exchange contract binding.
func (g *Gateway) Exchange() Contract { return g.exchange }

// OwnerAddress is the address of the privileged owner account.
func (g *Gateway) OwnerAddress() common.Address { return g.owner.PubKey().Address() }

// AllowCountFallback reports whether count-based id resolution is enabled.
func (g *Gateway) AllowCountFallback() bool { return g.allowCountFallback }

// Call performs a read-only contract call against the latest block and
// returns the unpacked outputs.
func (g *Gateway) Call(ctx context.Context, c Contract, method string, args ...any) ([]any, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", c.Name, method, err)
	}
	raw, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &c.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", c.Name, method, err)
	}
	out, err := c.ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s: %w", c.Name, method, err)
	}
	return out, nil
}

// CallUint is a convenience for single uint256 outputs.
func (g *Gateway) CallUint(ctx context.Context, c Contract, method string, args ...any) (*big.Int, error) {
	out, err := g.Call(ctx, c, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("call %s.%s: expected one output, got %d", c.Name, method, len(out))
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("call %s.%s: output is not uint256", c.Name, method)
	}
	return value, nil
}

// PendingNonce returns the pending-state nonce for an account. Callers that
// chain several writes from the same sender reserve consecutive nonces off
// this value instead of asking again between writes.
func (g *Gateway) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := g.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("pending nonce for %s: %w", account.Hex(), err)
	}
	return nonce, nil
}

// NativeBalance returns the account's native coin balance at the latest block.
func (g *Gateway) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := g.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance of %s: %w", account.Hex(), err)
	}
	return balance, nil
}

// BlockTime resolves a block number to its timestamp.
func (g *Gateway) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	header, err := g.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// LatestBlock returns the current chain head number.
func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	return g.backend.BlockNumber(ctx)
}

// FilterLogs forwards a log query to the backend.
func (g *Gateway) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return g.backend.FilterLogs(ctx, q)
}
