// Package wallet holds the signing keys the daemon may act with and the
// connected-account session that drives cache invalidation.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	xerrors "CreatorServices/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keyring maps account addresses to private keys.
type Keyring struct {
	mu   sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

// NewKeyring parses hex-encoded private keys, with or without a 0x prefix.
func NewKeyring(hexKeys ...string) (*Keyring, error) {
	k := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	for i, raw := range hexKeys {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if raw == "" {
			continue
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("解析第 %d 个私钥失败: %w", i+1, err)
		}
		k.Add(key)
	}
	return k, nil
}

// Add registers key and returns its address.
func (k *Keyring) Add(key *ecdsa.PrivateKey) common.Address {
	address := crypto.PubkeyToAddress(key.PublicKey)
	k.mu.Lock()
	k.keys[address] = key
	k.mu.Unlock()
	return address
}

// Accounts lists the addresses the keyring can sign for.
func (k *Keyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, 0, len(k.keys))
	for address := range k.keys {
		out = append(out, address)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Has reports whether account has a key.
func (k *Keyring) Has(account common.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[account]
	return ok
}

// Transactor returns signing options for account on chainID.
func (k *Keyring) Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	k.mu.RLock()
	key, ok := k.keys[account]
	k.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotAuthorized, "该账户没有可用的签名密钥",
			xerrors.WithMetadata("account", account.Hex()))
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建交易签名器失败")
	}
	return opts, nil
}
