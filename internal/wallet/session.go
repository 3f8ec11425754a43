package wallet

import (
	"slices"
	"sync"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
)

// ChangeKind tells which part of the session changed.
type ChangeKind string

const (
	ChangeAccount ChangeKind = "account"
	ChangeNetwork ChangeKind = "network"
)

// Change is delivered to session listeners. Generation increases with every
// change and lets callers drop results computed under an older session.
type Change struct {
	Kind       ChangeKind
	Previous   string
	Current    string
	Generation uint64
}

// Networks is the network source a session follows.
type Networks interface {
	ActiveName() string
	Switch(name string) error
	OnChange(fn provider.ChangeFunc)
}

// Session tracks the connected account and the active network.
type Session struct {
	networks Networks

	mu         sync.RWMutex
	account    common.Address
	connected  bool
	generation uint64
	listeners  []func(Change)
}

// NewSession follows the network switches of networks.
func NewSession(networks Networks) *Session {
	s := &Session{networks: networks}
	if networks != nil {
		networks.OnChange(func(previous, current string) {
			s.emit(ChangeNetwork, previous, current)
		})
	}
	return s
}

// Connect makes account the connected account. Reconnecting the same account
// is not a change.
func (s *Session) Connect(account common.Address) {
	if account == (common.Address{}) {
		s.Disconnect()
		return
	}
	s.mu.Lock()
	if s.connected && s.account == account {
		s.mu.Unlock()
		return
	}
	previous := ""
	if s.connected {
		previous = s.account.Hex()
	}
	s.account = account
	s.connected = true
	s.mu.Unlock()
	s.emit(ChangeAccount, previous, account.Hex())
}

// Disconnect clears the connected account.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	previous := s.account.Hex()
	s.account = common.Address{}
	s.connected = false
	s.mu.Unlock()
	s.emit(ChangeAccount, previous, "")
}

// Account returns the connected account.
func (s *Session) Account() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, s.connected
}

// RequireAccount returns the connected account or NOT_AUTHORIZED.
func (s *Session) RequireAccount() (common.Address, error) {
	account, ok := s.Account()
	if !ok {
		return common.Address{}, xerrors.New(xerrors.CodeNotAuthorized, "尚未连接钱包账户")
	}
	return account, nil
}

// Network returns the active network name.
func (s *Session) Network() string {
	if s.networks == nil {
		return ""
	}
	return s.networks.ActiveName()
}

// SwitchNetwork activates another configured network. Listeners hear about it
// through the network source.
func (s *Session) SwitchNetwork(name string) error {
	if s.networks == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置网络来源")
	}
	if err := s.networks.Switch(name); err != nil {
		return xerrors.Wrap(xerrors.CodeUnsupportedNetwork, err, "切换网络失败", xerrors.WithMetadata("network", name))
	}
	return nil
}

// Generation returns the number of changes seen so far.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// OnChange registers fn for account and network changes. Listeners run
// synchronously in registration order.
func (s *Session) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) emit(kind ChangeKind, previous, current string) {
	s.mu.Lock()
	s.generation++
	change := Change{Kind: kind, Previous: previous, Current: current, Generation: s.generation}
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}
