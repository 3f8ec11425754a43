// Package ledgertest provides an in-memory EVM chain that runs the escrow and
// reputation programs behind real ABI encoding, for tests of the gateway and
// the coordinators.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"CreatorServices/internal/ledger"
	"CreatorServices/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// DefaultEscrow is the escrow program address of chains built by New.
	DefaultEscrow = common.HexToAddress("0x0000000000000000000000000000000000000E5C")
	// DefaultReputation is the reputation program address of chains built by New.
	DefaultReputation = common.HexToAddress("0x0000000000000000000000000000000000000AA1")
)

type project struct {
	client      common.Address
	provider    common.Address
	amount      *big.Int
	title       string
	description string
	deadline    *big.Int
	status      uint8
}

type tally struct {
	numerator   *big.Int
	denominator *big.Int
}

// Chain is a single-node, London-enabled chain that mines every transaction
// immediately. Gas is accepted but never charged.
type Chain struct {
	mu       sync.Mutex
	network  web3.Network
	signer   types.Signer
	codes    map[string]uint8
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	block    uint64

	projects     []*project
	interactions map[[2]common.Address]bool
	ratings      map[common.Address]*tally

	unreadable  map[uint64]bool
	dropCreated bool
	withhold    bool
	readGate    chan struct{}
	calls       map[string]int
	sent        []*types.Transaction
	logs        []types.Log
	closed      bool
}

// Option customises a Chain.
type Option func(*Chain)

// WithEncoding selects one of the web3.StatusEncodings presets.
func WithEncoding(name string) Option {
	return func(c *Chain) {
		if codes, ok := web3.StatusEncodings[name]; ok {
			c.network.StatusCodes = codes
		}
	}
}

// WithStatusCodes installs an explicit status table, which may be empty.
func WithStatusCodes(codes map[uint8]string) Option {
	return func(c *Chain) {
		c.network.StatusCodes = codes
	}
}

// WithNetwork overrides the network name and chain id.
func WithNetwork(name string, chainID int64) Option {
	return func(c *Chain) {
		c.network.Name = name
		c.network.ChainID = big.NewInt(chainID)
	}
}

// WithCurrency overrides the currency symbol.
func WithCurrency(symbol string) Option {
	return func(c *Chain) {
		c.network.Currency = symbol
	}
}

// New builds a chain using the "manager" status encoding by default.
func New(opts ...Option) *Chain {
	c := &Chain{
		network: web3.Network{
			Name:              "devnet",
			ChainID:           big.NewInt(1337),
			Currency:          "ETH",
			Decimals:          18,
			EscrowAddress:     DefaultEscrow,
			ReputationAddress: DefaultReputation,
			StatusCodes:       web3.StatusEncodings["manager"],
		},
		balances:     make(map[common.Address]*big.Int),
		nonces:       make(map[common.Address]uint64),
		receipts:     make(map[common.Hash]*types.Receipt),
		interactions: make(map[[2]common.Address]bool),
		ratings:      make(map[common.Address]*tally),
		unreadable:   make(map[uint64]bool),
		calls:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.signer = types.LatestSignerForChainID(c.network.ChainID)
	c.codes = make(map[string]uint8, len(c.network.StatusCodes))
	for code, state := range c.network.StatusCodes {
		c.codes[state] = code
	}
	return c
}

// Network implements web3.Client.
func (c *Chain) Network() web3.Network { return c.network }

// Close implements web3.Client.
func (c *Chain) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Fund sets the balance of account in the smallest currency unit.
func (c *Chain) Fund(account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = new(big.Int).Set(amount)
}

// Balance returns the balance of account.
func (c *Chain) Balance(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceOf(account)
}

// MakeUnreadable makes getProject revert for id.
func (c *Chain) MakeUnreadable(id uint64) {
	c.mu.Lock()
	c.unreadable[id] = true
	c.mu.Unlock()
}

// DropCreationEvents stops createProject from emitting ProjectCreated.
func (c *Chain) DropCreationEvents(drop bool) {
	c.mu.Lock()
	c.dropCreated = drop
	c.mu.Unlock()
}

// WithholdReceipts keeps sent transactions pending forever.
func (c *Chain) WithholdReceipts(withhold bool) {
	c.mu.Lock()
	c.withhold = withhold
	c.mu.Unlock()
}

// GateReads blocks every getProject and getAverageRating call until the
// returned release func runs.
func (c *Chain) GateReads() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.readGate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.readGate = nil
			c.mu.Unlock()
			close(gate)
		})
	}
}

// SetStatus forces the raw state of an agreement.
func (c *Chain) SetStatus(id uint64, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < uint64(len(c.projects)) {
		c.projects[id].status = c.codes[state]
	}
}

// SetRawStatus forces an arbitrary status code, mapped or not.
func (c *Chain) SetRawStatus(id uint64, code uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < uint64(len(c.projects)) {
		c.projects[id].status = code
	}
}

// Calls returns how often a read method was invoked.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Sent returns the number of transactions accepted by SendTransaction.
func (c *Chain) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// LastSent returns the most recent transaction accepted by SendTransaction.
func (c *Chain) LastSent() *types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// ChainID implements web3.Backend.
func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.network.ChainID), nil
}

// BalanceAt implements web3.Backend.
func (c *Chain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	return c.Balance(account), nil
}

// PendingNonceAt implements web3.Backend.
func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// SuggestGasPrice implements web3.Backend.
func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// SuggestGasTipCap implements web3.Backend.
func (c *Chain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}

// HeaderByNumber implements web3.Backend. It always reports the latest block.
func (c *Chain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{
		Number:  new(big.Int).SetUint64(c.block),
		BaseFee: big.NewInt(1_000_000_000),
	}, nil
}

// CodeAt implements web3.Backend. Only the two program addresses carry code.
func (c *Chain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if account == c.network.EscrowAddress || account == c.network.ReputationAddress {
		return []byte{0x60, 0x80, 0x60, 0x40}, nil
	}
	return nil, nil
}

// PendingCodeAt implements web3.Backend.
func (c *Chain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return c.CodeAt(ctx, account, nil)
}

// FilterLogs implements web3.Backend over every log mined so far.
func (c *Chain) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Log
	for _, log := range c.logs {
		if matches(q, log) {
			out = append(out, log)
		}
	}
	return out, nil
}

// SubscribeFilterLogs implements web3.Backend. The chain has no push feed.
func (c *Chain) SubscribeFilterLogs(context.Context, gethcore.FilterQuery, chan<- types.Log) (gethcore.Subscription, error) {
	return nil, errors.New("log subscriptions are not supported")
}

func matches(q gethcore.FilterQuery, log types.Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, addr := range q.Addresses {
			if addr == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(log.Topics) {
			return false
		}
		found := false
		for _, topic := range alternatives {
			if topic == log.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EstimateGas implements web3.Backend.
func (c *Chain) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 250_000, nil
}

// TransactionReceipt implements web3.Backend.
func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[hash]
	if !ok || c.withhold {
		return nil, gethcore.NotFound
	}
	return receipt, nil
}

// SendTransaction implements web3.Backend and mines tx immediately.
func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	sender, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("chain closed")
	}
	if tx.Nonce() != c.nonces[sender] {
		return fmt.Errorf("nonce mismatch: have %d want %d", tx.Nonce(), c.nonces[sender])
	}
	c.nonces[sender]++
	c.sent = append(c.sent, tx)
	c.block++

	logs, ok := c.execute(sender, tx)
	status := types.ReceiptStatusSuccessful
	if !ok {
		status = types.ReceiptStatusFailed
		logs = nil
	}
	for i, log := range logs {
		log.TxHash = tx.Hash()
		log.BlockNumber = c.block
		log.Index = uint(i)
		c.logs = append(c.logs, *log)
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     21_000,
		BlockNumber: new(big.Int).SetUint64(c.block),
		Logs:        logs,
	}
	return nil
}

func (c *Chain) execute(sender common.Address, tx *types.Transaction) ([]*types.Log, bool) {
	if tx.To() == nil || len(tx.Data()) < 4 {
		return nil, false
	}
	value := tx.Value()
	if value.Sign() > 0 && c.balanceOf(sender).Cmp(value) < 0 {
		return nil, false
	}

	switch *tx.To() {
	case c.network.EscrowAddress:
		method, args, err := decode(ledger.EscrowABI, tx.Data())
		if err != nil {
			return nil, false
		}
		return c.executeEscrow(sender, value, method, args)
	case c.network.ReputationAddress:
		if value.Sign() > 0 {
			return nil, false
		}
		method, args, err := decode(ledger.ReputationABI, tx.Data())
		if err != nil {
			return nil, false
		}
		return c.executeReputation(sender, method, args)
	default:
		return nil, false
	}
}

func (c *Chain) executeEscrow(sender common.Address, value *big.Int, method *abi.Method, args []any) ([]*types.Log, bool) {
	switch method.Name {
	case ledger.MethodCreateProject:
		provider := args[0].(common.Address)
		if value.Sign() <= 0 || provider == (common.Address{}) {
			return nil, false
		}
		p := &project{
			client:      sender,
			provider:    provider,
			amount:      new(big.Int).Set(value),
			title:       args[1].(string),
			description: args[2].(string),
			deadline:    new(big.Int).Set(args[3].(*big.Int)),
			status:      c.codes["proposed"],
		}
		id := uint64(len(c.projects))
		c.projects = append(c.projects, p)
		c.transfer(sender, c.network.EscrowAddress, value)
		if c.dropCreated {
			return nil, true
		}
		event := ledger.EscrowABI.Events[ledger.EventProjectCreated]
		data, err := event.Inputs.NonIndexed().Pack(p.amount, p.title, p.description, p.deadline)
		if err != nil {
			return nil, false
		}
		return []*types.Log{{
			Address: c.network.EscrowAddress,
			Topics: []common.Hash{
				event.ID,
				common.BigToHash(new(big.Int).SetUint64(id)),
				common.BytesToHash(p.client.Bytes()),
				common.BytesToHash(p.provider.Bytes()),
			},
			Data: data,
		}}, true

	case ledger.MethodApproveProject, ledger.MethodRejectProject:
		p, ok := c.projectFor(args[0].(*big.Int), sender)
		if !ok || p.status != c.codes["proposed"] {
			return nil, false
		}
		if method.Name == ledger.MethodRejectProject {
			p.status = c.codes["rejected"]
			c.transfer(c.network.EscrowAddress, p.client, p.amount)
			return nil, true
		}
		if code, ok := c.codes["accepted"]; ok {
			p.status = code
		} else {
			p.status = c.codes["in_progress"]
		}
		return nil, true

	case ledger.MethodMarkCompleted:
		p, ok := c.projectFor(args[0].(*big.Int), sender)
		if !ok {
			return nil, false
		}
		accepted, hasAccepted := c.codes["accepted"]
		if p.status != c.codes["in_progress"] && !(hasAccepted && p.status == accepted) {
			return nil, false
		}
		p.status = c.codes["completed"]
		c.transfer(c.network.EscrowAddress, p.provider, p.amount)
		c.interactions[[2]common.Address{p.client, p.provider}] = true
		return nil, true
	}
	return nil, false
}

func (c *Chain) projectFor(rawID *big.Int, provider common.Address) (*project, bool) {
	if !rawID.IsUint64() || rawID.Uint64() >= uint64(len(c.projects)) {
		return nil, false
	}
	p := c.projects[rawID.Uint64()]
	return p, p.provider == provider
}

func (c *Chain) executeReputation(sender common.Address, method *abi.Method, args []any) ([]*types.Log, bool) {
	if method.Name != ledger.MethodSubmitRating {
		return nil, false
	}
	provider := args[0].(common.Address)
	score := args[1].(uint8)
	if score < 1 || score > 5 {
		return nil, false
	}
	if !c.interactions[[2]common.Address{sender, provider}] && !c.interactions[[2]common.Address{provider, sender}] {
		return nil, false
	}
	t := c.ratings[provider]
	if t == nil {
		t = &tally{numerator: new(big.Int), denominator: new(big.Int)}
		c.ratings[provider] = t
	}
	t.numerator.Add(t.numerator, big.NewInt(int64(score)))
	t.denominator.Add(t.denominator, big.NewInt(1))

	event := ledger.ReputationABI.Events[ledger.EventRatingSubmitted]
	data, err := event.Inputs.NonIndexed().Pack(score)
	if err != nil {
		return nil, false
	}
	return []*types.Log{{
		Address: c.network.ReputationAddress,
		Topics:  []common.Hash{event.ID, common.BytesToHash(sender.Bytes()), common.BytesToHash(provider.Bytes())},
		Data:    data,
	}}, true
}

// CallContract implements web3.Backend for the view methods of both programs.
func (c *Chain) CallContract(ctx context.Context, call gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil {
		return nil, errors.New("missing call target")
	}
	switch *call.To {
	case c.network.EscrowAddress:
		method, args, err := decode(ledger.EscrowABI, call.Data)
		if err != nil {
			return nil, err
		}
		if method.Name == ledger.MethodGetProject {
			if err := c.waitGate(ctx); err != nil {
				return nil, err
			}
		}
		return c.callEscrow(method, args)
	case c.network.ReputationAddress:
		method, args, err := decode(ledger.ReputationABI, call.Data)
		if err != nil {
			return nil, err
		}
		if method.Name == ledger.MethodGetAverageRating {
			if err := c.waitGate(ctx); err != nil {
				return nil, err
			}
		}
		return c.callReputation(method, args)
	default:
		return nil, fmt.Errorf("no program at %s", call.To.Hex())
	}
}

func (c *Chain) waitGate(ctx context.Context) error {
	c.mu.Lock()
	gate := c.readGate
	c.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chain) callEscrow(method *abi.Method, args []any) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method.Name]++

	switch method.Name {
	case ledger.MethodGetProjectsCount:
		return method.Outputs.Pack(big.NewInt(int64(len(c.projects))))
	case ledger.MethodGetProject:
		raw := args[0].(*big.Int)
		if !raw.IsUint64() || raw.Uint64() >= uint64(len(c.projects)) {
			return nil, errors.New("execution reverted: project does not exist")
		}
		id := raw.Uint64()
		if c.unreadable[id] {
			return nil, fmt.Errorf("execution reverted: project %d unreadable", id)
		}
		p := c.projects[id]
		return method.Outputs.Pack(p.client, p.provider, p.amount, p.title, p.description, p.deadline, p.status)
	default:
		return nil, fmt.Errorf("%s is not a view method", method.Name)
	}
}

func (c *Chain) callReputation(method *abi.Method, args []any) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method.Name]++

	switch method.Name {
	case ledger.MethodGetAverageRating:
		t := c.ratings[args[0].(common.Address)]
		if t == nil {
			return method.Outputs.Pack(new(big.Int), new(big.Int))
		}
		return method.Outputs.Pack(t.numerator, t.denominator)
	case ledger.MethodHasInteracted:
		key := [2]common.Address{args[0].(common.Address), args[1].(common.Address)}
		return method.Outputs.Pack(c.interactions[key])
	default:
		return nil, fmt.Errorf("%s is not a view method", method.Name)
	}
}

func (c *Chain) balanceOf(account common.Address) *big.Int {
	if bal, ok := c.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (c *Chain) transfer(from, to common.Address, amount *big.Int) {
	c.balances[from] = new(big.Int).Sub(c.balanceOf(from), amount)
	c.balances[to] = new(big.Int).Add(c.balanceOf(to), amount)
}

func decode(contract abi.ABI, data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("calldata too short")
	}
	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

var _ web3.Client = (*Chain)(nil)
