package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"CreatorServices/internal/web3"
	"CreatorServices/internal/web3/ethereum"
)

// Config selects the chain definitions and which of them the daemon accepts
// for fund commitments.
type Config struct {
	ChainConfig       string   `json:"chain_config"`
	DefaultChain      string   `json:"default_chain"`
	SupportedNetworks []string `json:"supported_networks"`
}

// Dialer builds a client for one chain definition.
type Dialer func(ctx context.Context, name string, def web3.ChainDefinition, network web3.Network) (web3.Client, error)

// DialEVM is the production Dialer backed by go-ethereum's ethclient.
func DialEVM(ctx context.Context, name string, def web3.ChainDefinition, network web3.Network) (web3.Client, error) {
	chainType := strings.ToLower(strings.TrimSpace(def.Type))
	if chainType != "" && chainType != "evm" {
		return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
	}
	return ethereum.NewClient(ctx, ethereum.Config{RPCURL: def.RPCURL, Network: network})
}

// ChangeFunc is invoked after the active network switches.
type ChangeFunc func(previous, current string)

// Registry manages the chain clients keyed by network name and tracks which
// one is active. It is the balance source's view of "the current network".
type Registry struct {
	mu        sync.RWMutex
	active    string
	clients   map[string]web3.Client
	supported map[string]struct{}
	listeners []ChangeFunc
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg Config, dial Dialer) (*Registry, error) {
	if dial == nil {
		dial = DialEVM
	}
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client, len(defs.Chains))
	for _, name := range defs.Names() {
		def := defs.Chains[name]
		network, err := def.Network(name)
		if err != nil {
			closeClients(clients)
			return nil, err
		}
		client, err := dial(ctx, name, def, network)
		if err != nil {
			closeClients(clients)
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}
	return NewStaticRegistry(clients, cfg.DefaultChain, cfg.SupportedNetworks)
}

// NewStaticRegistry wraps already constructed clients. An empty supported
// list means every registered network is supported.
func NewStaticRegistry(clients map[string]web3.Client, defaultChain string, supported []string) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	if defaultChain == "" {
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	set := make(map[string]struct{}, len(supported))
	if len(supported) == 0 {
		supported = names
	}
	for _, name := range supported {
		set[strings.TrimSpace(name)] = struct{}{}
	}

	return &Registry{active: defaultChain, clients: clients, supported: set}, nil
}

// Active returns the client of the currently active network.
func (r *Registry) Active() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[r.active]
	if !ok {
		return nil, fmt.Errorf("当前链 %s 未在注册表中", r.active)
	}
	return client, nil
}

// ActiveName returns the name of the active network.
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// IsSupported reports whether fund commitments are allowed on the network.
func (r *Registry) IsSupported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.supported[name]
	return ok
}

// Switch makes name the active network and notifies listeners.
func (r *Registry) Switch(name string) error {
	r.mu.Lock()
	if _, ok := r.clients[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("链 %s 未在注册表中", name)
	}
	previous := r.active
	r.active = name
	listeners := append([]ChangeFunc(nil), r.listeners...)
	r.mu.Unlock()

	if previous == name {
		return nil
	}
	for _, fn := range listeners {
		fn(previous, name)
	}
	return nil
}

// OnChange registers a listener for active network switches.
func (r *Registry) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	closeClients(r.clients)
}

func closeClients(clients map[string]web3.Client) {
	for name, client := range clients {
		if client != nil {
			client.Close()
		}
		delete(clients, name)
	}
}
