// Package reputation gates rating submission on a completed agreement between
// the two parties and serves cached rating aggregates per provider.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/events"
	"CreatorServices/internal/ledger"
	"CreatorServices/internal/observability/metrics"
	"CreatorServices/internal/storage/mysql"
	"CreatorServices/internal/web3"
	"CreatorServices/pkg/logger"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Default inclusive score bounds.
const (
	DefaultMinScore = 1
	DefaultMaxScore = 5
)

// averagePlaces is the precision of Aggregate.Average.
const averagePlaces = 4

// Source resolves the reputation program of the active network.
type Source interface {
	Reputation(ctx context.Context) (ledger.ReputationService, web3.Network, error)
}

// Signer produces transaction options for an account.
type Signer interface {
	Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
}

// Aggregate 是某个服务方的评分汇总。没有评分时 Average 为 nil。
type Aggregate struct {
	Provider common.Address   `json:"provider"`
	Network  string           `json:"network"`
	Average  *decimal.Decimal `json:"average"`
	Total    uint64           `json:"total"`
	Count    uint64           `json:"count"`
}

// Receipt 描述一次已确认的评分写入。
type Receipt struct {
	Rater       common.Address `json:"rater"`
	Rated       common.Address `json:"rated"`
	Score       int            `json:"score"`
	TxHash      string         `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithScoreBounds overrides the inclusive score range.
func WithScoreBounds(min, max int) Option {
	return func(c *Coordinator) {
		c.minScore, c.maxScore = min, max
	}
}

// WithCache replaces the in-memory aggregate cache.
func WithCache(cache AggregateCache) Option {
	return func(c *Coordinator) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithJournal records confirmed ratings.
func WithJournal(j mysql.Journal) Option {
	return func(c *Coordinator) {
		c.journal = j
	}
}

// WithPublisher publishes rating events.
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
	source Source
	signer Signer

	minScore  int
	maxScore  int
	cache     AggregateCache
	journal   mysql.Journal
	publisher events.Publisher
	log       *slog.Logger

	mu    sync.Mutex
	epoch uint64
	gens  map[string]uint64
	reads singleflight.Group
}

// NewCoordinator validates the score bounds.
func NewCoordinator(source Source, signer Signer, opts ...Option) (*Coordinator, error) {
	if source == nil || signer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "评分协调器缺少必要依赖")
	}
	c := &Coordinator{
		source:    source,
		signer:    signer,
		minScore:  DefaultMinScore,
		maxScore:  DefaultMaxScore,
		cache:     NewMemoryCache(),
		publisher: events.Nop{},
		log:       logger.Named("reputation"),
		gens:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.minScore < 0 || c.maxScore > 255 || c.minScore > c.maxScore {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("评分区间 [%d, %d] 无效", c.minScore, c.maxScore))
	}
	return c, nil
}

// ScoreBounds returns the inclusive score range.
func (c *Coordinator) ScoreBounds() (int, int) {
	return c.minScore, c.maxScore
}

// IsEligibleToRate asks the ledger whether rater and rated share a completed
// agreement, in either role.
func (c *Coordinator) IsEligibleToRate(ctx context.Context, rater, rated common.Address) (bool, error) {
	if rater == rated || rater == (common.Address{}) || rated == (common.Address{}) {
		return false, nil
	}
	service, _, err := c.source.Reputation(ctx)
	if err != nil {
		return false, err
	}
	return eligible(ctx, service, rater, rated)
}

func eligible(ctx context.Context, service ledger.ReputationService, rater, rated common.Address) (bool, error) {
	ok, err := service.HasInteracted(ctx, rater, rated)
	if err != nil || ok {
		return ok, err
	}
	return service.HasInteracted(ctx, rated, rater)
}

// SubmitRating records score for rated on behalf of rater. Eligibility is
// checked before the score, so an ineligible rater gets NOT_ELIGIBLE for any
// score.
func (c *Coordinator) SubmitRating(ctx context.Context, rater, rated common.Address, score int) (Receipt, error) {
	service, network, err := c.source.Reputation(ctx)
	if err != nil {
		return Receipt{}, err
	}
	ok := rater != rated && rater != (common.Address{}) && rated != (common.Address{})
	if ok {
		if ok, err = eligible(ctx, service, rater, rated); err != nil {
			return Receipt{}, err
		}
	}
	if !ok {
		return Receipt{}, xerrors.New(xerrors.CodeNotEligible, "双方没有已完成的合约，不能评分",
			xerrors.WithMetadata("rater", rater.Hex()),
			xerrors.WithMetadata("rated", rated.Hex()))
	}
	if score < c.minScore || score > c.maxScore {
		return Receipt{}, xerrors.New(xerrors.CodeInvalidScore,
			fmt.Sprintf("评分必须在 %d 到 %d 之间", c.minScore, c.maxScore),
			xerrors.WithMetadata("score", fmt.Sprint(score)))
	}

	opts, err := c.signer.Transactor(rater, network.ChainID)
	if err != nil {
		return Receipt{}, err
	}
	opts.Context = ctx
	conf, err := service.Submit(ctx, opts, rated, uint8(score))
	if err != nil {
		return Receipt{}, err
	}
	c.invalidate(ctx, network.Name, rated)

	receipt := Receipt{
		Rater:       rater,
		Rated:       rated,
		Score:       score,
		TxHash:      conf.TxHash.Hex(),
		BlockNumber: conf.BlockNumber,
	}
	c.confirmed(ctx, network, receipt)
	return receipt, nil
}

func (c *Coordinator) confirmed(ctx context.Context, network web3.Network, receipt Receipt) {
	logger.Audit().Info("评分写入已确认",
		slog.String("operation", string(mysql.OpSubmitRating)),
		slog.String("network", network.Name),
		slog.String("rater", receipt.Rater.Hex()),
		slog.String("rated", receipt.Rated.Hex()),
		slog.Int("score", receipt.Score),
		slog.String("tx_hash", receipt.TxHash))

	if c.journal != nil {
		err := c.journal.Record(ctx, mysql.JournalEntry{
			Operation:    mysql.OpSubmitRating,
			Network:      network.Name,
			Account:      receipt.Rater.Hex(),
			Counterparty: receipt.Rated.Hex(),
			Amount:       fmt.Sprint(receipt.Score),
			TxHash:       receipt.TxHash,
			BlockNumber:  receipt.BlockNumber,
		})
		if err != nil {
			c.log.Error("记录评分写入失败", slog.String("tx_hash", receipt.TxHash), slog.Any("error", err))
		}
	}

	event := events.New(events.TypeRatingSubmitted, network.Name, receipt.TxHash)
	event.Rater = receipt.Rater.Hex()
	event.Provider = receipt.Rated.Hex()
	event.Score = receipt.Score
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.log.Warn("发布评分事件失败", slog.Any("error", err))
	}
}

// GetAggregate returns the rating summary of provider, reading the ledger
// only on a cache miss.
func (c *Coordinator) GetAggregate(ctx context.Context, provider common.Address) (Aggregate, error) {
	service, network, err := c.source.Reputation(ctx)
	if err != nil {
		return Aggregate{}, err
	}

	agg, ok, err := c.cache.Get(ctx, network.Name, provider)
	switch {
	case err != nil:
		c.log.Warn("读取评分缓存失败", slog.String("provider", provider.Hex()), slog.Any("error", err))
	case ok:
		metrics.ObserveCache("ratings", "hit")
		return agg, nil
	}
	metrics.ObserveCache("ratings", "miss")

	key := CacheKey(network.Name, provider)
	epoch, gen := c.stamp(key)
	flight := fmt.Sprintf("%s/%d/%d", key, epoch, gen)
	results := c.reads.DoChan(flight, func() (any, error) {
		// The shared read belongs to every waiter, not to whichever caller started it.
		readCtx := context.WithoutCancel(ctx)
		numerator, denominator, err := service.Aggregate(readCtx, provider)
		if err != nil {
			return nil, err
		}
		agg, err := buildAggregate(network.Name, provider, numerator, denominator)
		if err != nil {
			return nil, err
		}
		if c.current(key, epoch, gen) {
			if err := c.cache.Set(readCtx, network.Name, provider, agg); err != nil {
				c.log.Warn("写入评分缓存失败", slog.String("provider", provider.Hex()), slog.Any("error", err))
			}
		}
		return agg, nil
	})

	select {
	case <-ctx.Done():
		return Aggregate{}, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return Aggregate{}, res.Err
		}
		return res.Val.(Aggregate), nil
	}
}

func buildAggregate(network string, provider common.Address, numerator, denominator *big.Int) (Aggregate, error) {
	if numerator == nil || denominator == nil || numerator.Sign() < 0 || denominator.Sign() < 0 ||
		!numerator.IsUint64() || !denominator.IsUint64() {
		return Aggregate{}, xerrors.New(xerrors.CodeLedgerReadFailed, "评分汇总数据无效",
			xerrors.WithMetadata("provider", provider.Hex()))
	}
	agg := Aggregate{
		Provider: provider,
		Network:  network,
		Total:    numerator.Uint64(),
		Count:    denominator.Uint64(),
	}
	if agg.Count > 0 {
		avg := decimal.NewFromBigInt(numerator, 0).DivRound(decimal.NewFromBigInt(denominator, 0), averagePlaces)
		agg.Average = &avg
	}
	return agg, nil
}

func (c *Coordinator) stamp(key string) (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch, c.gens[key]
}

func (c *Coordinator) current(key string, epoch, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch && c.gens[key] == gen
}

func (c *Coordinator) invalidate(ctx context.Context, network string, provider common.Address) {
	key := CacheKey(network, provider)
	c.mu.Lock()
	c.gens[key]++
	c.mu.Unlock()
	if err := c.cache.Delete(ctx, network, provider); err != nil {
		c.log.Warn("清除评分缓存失败", slog.String("provider", provider.Hex()), slog.Any("error", err))
	}
}

// Invalidate drops the cached aggregates of providers on the active network.
func (c *Coordinator) Invalidate(ctx context.Context, providers ...common.Address) {
	_, network, err := c.source.Reputation(ctx)
	if err != nil {
		c.log.Warn("无法确定当前网络，清除全部评分缓存", slog.Any("error", err))
		c.InvalidateAll(ctx)
		return
	}
	for _, provider := range providers {
		c.invalidate(ctx, network.Name, provider)
	}
}

// InvalidateAll drops every cached aggregate.
func (c *Coordinator) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	c.gens = make(map[string]uint64)
	c.mu.Unlock()
	if err := c.cache.Clear(ctx); err != nil {
		c.log.Warn("清空评分缓存失败", slog.Any("error", err))
	}
}
