package web3

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of an EVM JSON-RPC client the ledger gateway needs:
// everything bind.BoundContract reads and writes through, plus balances.
// *ethclient.Client satisfies it, as does the in-memory chain used in tests.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Network describes one configured chain as seen by the coordination layer.
type Network struct {
	Name              string
	ChainID           *big.Int
	Currency          string
	Decimals          int32
	EscrowAddress     common.Address
	ReputationAddress common.Address
	StatusCodes       map[uint8]string
}

// Client is a Backend bound to a named network.
type Client interface {
	Backend
	Network() Network
	Close()
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// ParseAddress validates a hex account address.
func ParseAddress(raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
