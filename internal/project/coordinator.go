// Package project coordinates the agreement lifecycle: it creates escrow
// agreements behind the fund guard, enforces the canonical state machine
// before any ledger write, and keeps role-scoped views of each account's
// agreements that are rebuilt only after invalidation.
package project

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/events"
	"CreatorServices/internal/funds"
	"CreatorServices/internal/ledger"
	"CreatorServices/internal/observability/metrics"
	"CreatorServices/internal/storage/mysql"
	"CreatorServices/internal/web3"
	"CreatorServices/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// EscrowSource resolves the escrow program of the active network.
type EscrowSource interface {
	Escrow(ctx context.Context) (ledger.EscrowService, web3.Network, error)
}

// FundGuard is consulted before every agreement creation.
type FundGuard interface {
	HasSufficientFunds(ctx context.Context, account common.Address, amount decimal.Decimal) (funds.Check, error)
}

// Signer produces transaction options for an account.
type Signer interface {
	Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
}

const (
	defaultScanConcurrency = 8
	defaultMaxScan         = 10000
)

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithScanConcurrency bounds the concurrent record reads of one scan.
func WithScanConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxScan caps the record count a single scan accepts from the ledger.
func WithMaxScan(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxScan = uint64(n)
		}
	}
}

// WithJournal records confirmed writes.
func WithJournal(j mysql.Journal) Option {
	return func(c *Coordinator) {
		c.journal = j
	}
}

// WithPublisher publishes lifecycle events after confirmed writes.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	escrow EscrowSource
	guard  FundGuard
	signer Signer

	journal     mysql.Journal
	publisher   events.Publisher
	concurrency int
	maxScan     uint64
	log         *slog.Logger

	tablesMu sync.Mutex
	tables   map[string]StatusTable

	cache *viewCache
	scans singleflight.Group
}

// NewCoordinator refuses to start unless the active network carries a valid
// status table.
func NewCoordinator(ctx context.Context, escrow EscrowSource, guard FundGuard, signer Signer, opts ...Option) (*Coordinator, error) {
	if escrow == nil || guard == nil || signer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "项目协调器缺少必要依赖")
	}
	c := &Coordinator{
		escrow:      escrow,
		guard:       guard,
		signer:      signer,
		publisher:   events.Nop{},
		concurrency: defaultScanConcurrency,
		maxScan:     defaultMaxScan,
		log:         logger.Named("project"),
		tables:      make(map[string]StatusTable),
		cache:       newViewCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, _, _, err := c.bind(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) bind(ctx context.Context) (ledger.EscrowService, web3.Network, StatusTable, error) {
	escrow, network, err := c.escrow.Escrow(ctx)
	if err != nil {
		return nil, web3.Network{}, nil, err
	}
	table, err := c.table(network)
	if err != nil {
		return nil, web3.Network{}, nil, err
	}
	return escrow, network, table, nil
}

func (c *Coordinator) table(network web3.Network) (StatusTable, error) {
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	if table, ok := c.tables[network.Name]; ok {
		return table, nil
	}
	table, err := NewStatusTable(network.StatusCodes)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("网络 %s 的状态码映射无效", network.Name))
	}
	c.tables[network.Name] = table
	c.log.Info("加载状态码映射", slog.String("network", network.Name), slog.String("table", table.String()))
	return table, nil
}

func toAgreement(network web3.Network, table StatusTable, raw ledger.RawAgreement) (Agreement, error) {
	state, err := table.Resolve(raw.StatusCode)
	if err != nil {
		return Agreement{}, err
	}
	a := Agreement{
		ID:          raw.ID,
		Network:     network.Name,
		Client:      raw.Client,
		Provider:    raw.Provider,
		Amount:      ledger.FromBaseUnits(raw.Amount, network.Decimals),
		Currency:    network.Currency,
		Title:       raw.Title,
		Description: raw.Description,
		State:       state.Reported(),
		StatusCode:  raw.StatusCode,
	}
	if raw.Deadline > 0 {
		deadline := time.Unix(int64(raw.Deadline), 0).UTC()
		a.Deadline = &deadline
	}
	return a, nil
}

func (c *Coordinator) read(ctx context.Context, escrow ledger.EscrowService, network web3.Network, table StatusTable, id uint64) (Agreement, error) {
	count, err := escrow.Count(ctx)
	if err != nil {
		return Agreement{}, err
	}
	if id >= count {
		return Agreement{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("合约 %d 不存在", id),
			xerrors.WithMetadata("agreement_id", fmt.Sprint(id)))
	}
	raw, err := escrow.Get(ctx, id)
	if err != nil {
		return Agreement{}, err
	}
	return toAgreement(network, table, raw)
}

// GetAgreement performs one authoritative read.
func (c *Coordinator) GetAgreement(ctx context.Context, id uint64) (Agreement, error) {
	escrow, network, table, err := c.bind(ctx)
	if err != nil {
		return Agreement{}, err
	}
	return c.read(ctx, escrow, network, table, id)
}

// CreateAgreement funds a new agreement from req.Client and returns the id
// assigned by the ledger.
func (c *Coordinator) CreateAgreement(ctx context.Context, req CreateRequest) (Receipt, error) {
	if !req.Amount.IsPositive() {
		return Receipt{}, xerrors.New(xerrors.CodeInvalidArgument, "托管金额必须大于 0")
	}
	if req.Provider == (common.Address{}) {
		return Receipt{}, xerrors.New(xerrors.CodeInvalidArgument, "服务方地址无效")
	}
	if req.Provider == req.Client {
		return Receipt{}, xerrors.New(xerrors.CodeInvalidArgument, "客户与服务方不能是同一地址")
	}
	var deadline time.Time
	if req.Deadline != nil {
		if req.Deadline.Unix() < 0 {
			return Receipt{}, xerrors.New(xerrors.CodeInvalidArgument, "截止时间无效")
		}
		deadline = *req.Deadline
	}

	escrow, network, _, err := c.bind(ctx)
	if err != nil {
		return Receipt{}, err
	}
	wei, err := ledger.ToBaseUnits(req.Amount, network.Decimals)
	if err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "托管金额精度超出范围")
	}

	check, err := c.guard.HasSufficientFunds(ctx, req.Client, req.Amount)
	if err != nil {
		return Receipt{}, err
	}
	switch check.Reason {
	case funds.ReasonUnsupportedNetwork:
		return Receipt{}, xerrors.New(xerrors.CodeUnsupportedNetwork, fmt.Sprintf("当前网络 %s 不支持托管", check.Network),
			xerrors.WithMetadata("network", check.Network))
	case funds.ReasonInsufficient:
		return Receipt{}, xerrors.New(xerrors.CodeInsufficientFunds, "账户余额不足",
			xerrors.WithMetadata("balance", check.Balance.String()),
			xerrors.WithMetadata("required", req.Amount.String()),
			xerrors.WithMetadata("currency", check.Currency))
	}

	opts, err := c.signer.Transactor(req.Client, network.ChainID)
	if err != nil {
		return Receipt{}, err
	}
	opts.Context = ctx

	id, conf, err := escrow.Create(ctx, opts, ledger.CreateRequest{
		Provider:    req.Provider,
		Amount:      wei,
		Title:       req.Title,
		Description: req.Description,
		Deadline:    deadline,
	})
	if err != nil {
		if conf.TxHash != (common.Hash{}) {
			// The deposit is on the ledger even though its id is not known.
			c.cache.invalidate(req.Client, req.Provider)
			c.log.Error("托管交易已确认但无法解析合约编号",
				slog.String("tx_hash", conf.TxHash.Hex()),
				slog.String("client", req.Client.Hex()),
				slog.Any("error", err))
		}
		return Receipt{}, err
	}

	c.cache.invalidate(req.Client, req.Provider)
	receipt := Receipt{AgreementID: id, State: StateProposed, TxHash: conf.TxHash.Hex(), BlockNumber: conf.BlockNumber}
	c.confirmed(ctx, network, mysql.JournalEntry{
		Operation:    mysql.OpCreateAgreement,
		AgreementID:  &id,
		Account:      req.Client.Hex(),
		Counterparty: req.Provider.Hex(),
		Amount:       req.Amount.String(),
	}, events.TypeAgreementCreated, receipt)
	return receipt, nil
}

// RespondToProposal accepts or rejects a proposed agreement on behalf of its
// provider.
func (c *Coordinator) RespondToProposal(ctx context.Context, caller common.Address, id uint64, accept bool) (Receipt, error) {
	escrow, network, table, err := c.bind(ctx)
	if err != nil {
		return Receipt{}, err
	}
	current, err := c.read(ctx, escrow, network, table, id)
	if err != nil {
		return Receipt{}, err
	}
	if caller != current.Provider {
		return Receipt{}, notProvider(caller, id)
	}

	target := StateRejected
	if accept {
		target = StateAccepted
	}
	if err := Transition(current.State, target); err != nil {
		return Receipt{}, err
	}

	opts, err := c.signer.Transactor(caller, network.ChainID)
	if err != nil {
		return Receipt{}, err
	}
	opts.Context = ctx
	conf, err := escrow.Respond(ctx, opts, id, accept)
	if err != nil {
		return Receipt{}, err
	}
	c.cache.invalidate(current.Client, current.Provider)

	receipt := Receipt{
		AgreementID: id,
		State:       c.confirmedState(ctx, escrow, network, table, id, target.Reported()),
		TxHash:      conf.TxHash.Hex(),
		BlockNumber: conf.BlockNumber,
	}
	op, typ := mysql.OpRejectProposal, events.TypeAgreementRejected
	if accept {
		op, typ = mysql.OpAcceptProposal, events.TypeAgreementAccepted
	}
	c.confirmed(ctx, network, mysql.JournalEntry{
		Operation:    op,
		AgreementID:  &id,
		Account:      caller.Hex(),
		Counterparty: current.Client.Hex(),
	}, typ, receipt)
	return receipt, nil
}

// MarkCompleted moves an in-progress agreement to Completed on behalf of its
// provider.
func (c *Coordinator) MarkCompleted(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	escrow, network, table, err := c.bind(ctx)
	if err != nil {
		return Receipt{}, err
	}
	current, err := c.read(ctx, escrow, network, table, id)
	if err != nil {
		return Receipt{}, err
	}
	if caller != current.Provider {
		return Receipt{}, notProvider(caller, id)
	}
	if err := Transition(current.State, StateCompleted); err != nil {
		return Receipt{}, err
	}

	opts, err := c.signer.Transactor(caller, network.ChainID)
	if err != nil {
		return Receipt{}, err
	}
	opts.Context = ctx
	conf, err := escrow.MarkCompleted(ctx, opts, id)
	if err != nil {
		return Receipt{}, err
	}
	c.cache.invalidate(current.Client, current.Provider)

	receipt := Receipt{
		AgreementID: id,
		State:       c.confirmedState(ctx, escrow, network, table, id, StateCompleted),
		TxHash:      conf.TxHash.Hex(),
		BlockNumber: conf.BlockNumber,
	}
	c.confirmed(ctx, network, mysql.JournalEntry{
		Operation:    mysql.OpMarkCompleted,
		AgreementID:  &id,
		Account:      caller.Hex(),
		Counterparty: current.Client.Hex(),
	}, events.TypeAgreementCompleted, receipt)
	return receipt, nil
}

func notProvider(caller common.Address, id uint64) error {
	return xerrors.New(xerrors.CodeNotAuthorized, "只有服务方可以执行该操作",
		xerrors.WithMetadata("caller", caller.Hex()),
		xerrors.WithMetadata("agreement_id", fmt.Sprint(id)))
}

// confirmedState re-reads the record after a confirmed write. If the re-read
// fails the expected state is reported; the write itself already succeeded.
func (c *Coordinator) confirmedState(ctx context.Context, escrow ledger.EscrowService, network web3.Network, table StatusTable, id uint64, expected State) State {
	raw, err := escrow.Get(ctx, id)
	if err != nil {
		c.log.Warn("写入确认后重新读取合约失败", slog.Uint64("agreement_id", id), slog.Any("error", err))
		return expected
	}
	a, err := toAgreement(network, table, raw)
	if err != nil {
		c.log.Warn("写入确认后无法识别合约状态", slog.Uint64("agreement_id", id), slog.Any("error", err))
		return expected
	}
	if a.State != expected {
		c.log.Warn("账本状态与预期不一致",
			slog.Uint64("agreement_id", id),
			slog.String("expected", string(expected)),
			slog.String("actual", string(a.State)))
	}
	return a.State
}

// confirmed journals, publishes and audits a confirmed write. Failures here
// are logged and never undo the write.
func (c *Coordinator) confirmed(ctx context.Context, network web3.Network, entry mysql.JournalEntry, typ events.Type, receipt Receipt) {
	entry.Network = network.Name
	entry.State = string(receipt.State)
	entry.TxHash = receipt.TxHash
	entry.BlockNumber = receipt.BlockNumber

	logger.Audit().Info("账本写入已确认",
		slog.String("operation", string(entry.Operation)),
		slog.String("network", network.Name),
		slog.Uint64("agreement_id", receipt.AgreementID),
		slog.String("account", entry.Account),
		slog.String("state", entry.State),
		slog.String("tx_hash", receipt.TxHash))

	if c.journal != nil {
		if err := c.journal.Record(ctx, entry); err != nil {
			c.log.Error("记录账本写入失败", slog.String("tx_hash", receipt.TxHash), slog.Any("error", err))
		}
	}

	event := events.New(typ, network.Name, receipt.TxHash)
	id := receipt.AgreementID
	event.AgreementID = &id
	event.State = entry.State
	if typ == events.TypeAgreementCreated {
		event.Client, event.Provider = entry.Account, entry.Counterparty
	} else {
		event.Provider, event.Client = entry.Account, entry.Counterparty
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.log.Warn("发布生命周期事件失败", slog.String("type", string(typ)), slog.Any("error", err))
	}
}

// ListAgreements returns the role-scoped view of account, scanning the ledger
// only when no valid cached view exists. Concurrent callers for the same view
// share one scan.
func (c *Coordinator) ListAgreements(ctx context.Context, account common.Address, role Role) (Buckets, error) {
	if role != RoleClient && role != RoleProvider {
		return Buckets{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知角色 %q", role))
	}
	escrow, network, table, err := c.bind(ctx)
	if err != nil {
		return Buckets{}, err
	}

	key := viewKey{network: network.Name, account: account, role: role}
	view, at, ok := c.cache.lookup(key)
	if ok {
		return view.clone(), nil
	}

	flight := fmt.Sprintf("%s/%s/%s/%d/%d", network.Name, strings.ToLower(account.Hex()), role, at.epoch, at.gen)
	results := c.scans.DoChan(flight, func() (any, error) {
		// A started scan runs to completion even if the first caller leaves.
		scanCtx := context.WithoutCancel(ctx)
		view, err := c.scan(scanCtx, escrow, network, table, account, role)
		if err != nil {
			return nil, err
		}
		if !c.cache.store(key, at, view) {
			c.log.Debug("丢弃过期的扫描结果", slog.String("account", account.Hex()), slog.String("role", string(role)))
		}
		return view, nil
	})

	select {
	case <-ctx.Done():
		return Buckets{}, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return Buckets{}, res.Err
		}
		return res.Val.(Buckets).clone(), nil
	}
}

type scanSlot struct {
	agreement Agreement
	matched   bool
	err       error
}

func matches(raw ledger.RawAgreement, account common.Address, role Role) bool {
	if role == RoleClient {
		return raw.Client == account
	}
	return raw.Provider == account
}

func (c *Coordinator) scan(ctx context.Context, escrow ledger.EscrowService, network web3.Network, table StatusTable, account common.Address, role Role) (Buckets, error) {
	started := time.Now()
	count, err := escrow.Count(ctx)
	if err != nil {
		metrics.ObserveScan(string(role), false, 0)
		return Buckets{}, err
	}
	if count > c.maxScan {
		metrics.ObserveScan(string(role), false, 0)
		return Buckets{}, xerrors.New(xerrors.CodeLedgerReadFailed,
			fmt.Sprintf("账本报告 %d 条记录，超过单次扫描上限 %d", count, c.maxScan),
			xerrors.WithMetadata("network", network.Name))
	}

	slots := make([]scanSlot, count)
	var group errgroup.Group
	group.SetLimit(c.concurrency)
	for id := uint64(0); id < count; id++ {
		group.Go(func() error {
			raw, err := escrow.Get(ctx, id)
			if err != nil {
				slots[id].err = err
				return nil
			}
			if !matches(raw, account, role) {
				return nil
			}
			a, err := toAgreement(network, table, raw)
			slots[id] = scanSlot{agreement: a, matched: true, err: err}
			return nil
		})
	}
	_ = group.Wait()

	view := Buckets{
		Account:   account,
		Role:      role,
		Network:   network.Name,
		Currency:  network.Currency,
		Total:     count,
		ScannedAt: time.Now().UTC(),
	}
	for id, slot := range slots {
		if slot.err != nil {
			c.log.Warn("跳过无法读取的合约记录",
				slog.Int("agreement_id", id),
				slog.String("network", network.Name),
				slog.Any("error", slot.err))
			view.Skipped = append(view.Skipped, Skipped{ID: uint64(id), Reason: slot.err.Error()})
			continue
		}
		if slot.matched {
			view.add(slot.agreement)
		}
	}

	metrics.ObserveScan(string(role), true, len(view.Skipped))
	c.log.Debug("合约扫描完成",
		slog.String("account", account.Hex()),
		slog.String("role", string(role)),
		slog.Uint64("total", count),
		slog.Int("matched", view.Len()),
		slog.Int("skipped", len(view.Skipped)),
		slog.Duration("elapsed", time.Since(started)))
	return view, nil
}

// Refresh drops the cached views of account and rescans.
func (c *Coordinator) Refresh(ctx context.Context, account common.Address, role Role) (Buckets, error) {
	c.cache.invalidate(account)
	return c.ListAgreements(ctx, account, role)
}

// Invalidate drops the cached views of accounts.
func (c *Coordinator) Invalidate(accounts ...common.Address) {
	c.cache.invalidate(accounts...)
}

// InvalidateAll drops every cached view. Scans already running are not
// stopped but their results are not cached.
func (c *Coordinator) InvalidateAll() {
	c.cache.invalidateAll()
}
