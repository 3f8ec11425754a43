// Package ledger is the typed gateway to the escrow and reputation programs.
// It shapes requests and responses, converts units and waits for write
// confirmations; it holds no business rules.
package ledger

import (
	"context"
	"sync"
	"time"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/web3"
)

// Config tunes write confirmation.
type Config struct {
	ConfirmTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 2 * time.Minute
	}
	return c
}

// Gateway bundles both programs deployed on one network.
type Gateway struct {
	Network    web3.Network
	Escrow     *Escrow
	Reputation *Reputation
}

// NewGateway binds the programs of network to backend.
func NewGateway(backend web3.Backend, network web3.Network, cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	tx := &transactor{
		backend:        backend,
		confirmTimeout: cfg.ConfirmTimeout,
	}
	return &Gateway{
		Network:    network,
		Escrow:     &Escrow{tx: tx, address: network.EscrowAddress},
		Reputation: &Reputation{tx: tx, address: network.ReputationAddress},
	}
}

// ActiveClients resolves the client of the currently active network.
type ActiveClients interface {
	Active() (web3.Client, error)
}

// Router hands out the gateway of whichever network is active, building each
// one once.
type Router struct {
	clients ActiveClients
	cfg     Config

	mu       sync.Mutex
	gateways map[string]*Gateway
}

// NewRouter constructs a Router over the active network source.
func NewRouter(clients ActiveClients, cfg Config) *Router {
	return &Router{clients: clients, cfg: cfg, gateways: make(map[string]*Gateway)}
}

// Active returns the gateway for the active network.
func (r *Router) Active(_ context.Context) (*Gateway, error) {
	if r == nil || r.clients == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本网关未初始化")
	}
	client, err := r.clients.Active()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取当前网络失败")
	}
	network := client.Network()

	r.mu.Lock()
	defer r.mu.Unlock()
	if gw, ok := r.gateways[network.Name]; ok {
		return gw, nil
	}
	gw := NewGateway(client, network, r.cfg)
	r.gateways[network.Name] = gw
	return gw, nil
}

// Escrow returns the escrow service of the active network.
func (r *Router) Escrow(ctx context.Context) (EscrowService, web3.Network, error) {
	gw, err := r.Active(ctx)
	if err != nil {
		return nil, web3.Network{}, err
	}
	return gw.Escrow, gw.Network, nil
}

// Reputation returns the reputation service of the active network.
func (r *Router) Reputation(ctx context.Context) (ReputationService, web3.Network, error) {
	gw, err := r.Active(ctx)
	if err != nil {
		return nil, web3.Network{}, err
	}
	return gw.Reputation, gw.Network, nil
}
