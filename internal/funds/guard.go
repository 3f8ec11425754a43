// Package funds checks whether an account can cover an escrow deposit on the
// active network. A passing check is advisory only: the deposit itself may
// still fail on the ledger.
package funds

import (
	"context"
	"log/slog"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/ledger"
	"CreatorServices/internal/web3"
	"CreatorServices/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Reason explains the outcome of a check.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonInsufficient       Reason = "insufficient_funds"
	ReasonUnsupportedNetwork Reason = "unsupported_network"
)

// Check is the result of HasSufficientFunds. Balance is zero when the network
// is unsupported because no balance is read.
type Check struct {
	Sufficient bool            `json:"sufficient"`
	Reason     Reason          `json:"reason"`
	Network    string          `json:"network"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `json:"balance"`
	Required   decimal.Decimal `json:"required"`
}

// Networks is the balance source: the active network and the set on which
// deposits are allowed.
type Networks interface {
	Active() (web3.Client, error)
	IsSupported(name string) bool
}

// Guard reads balances live on every call.
type Guard struct {
	networks Networks
	log      *slog.Logger
}

// NewGuard constructs a guard over networks.
func NewGuard(networks Networks) *Guard {
	return &Guard{networks: networks, log: logger.Named("funds")}
}

// HasSufficientFunds compares the live balance of account with amount.
func (g *Guard) HasSufficientFunds(ctx context.Context, account common.Address, amount decimal.Decimal) (Check, error) {
	if amount.IsNegative() {
		return Check{}, xerrors.New(xerrors.CodeInvalidArgument, "金额不能为负数")
	}
	if g == nil || g.networks == nil {
		return Check{}, xerrors.New(xerrors.CodeInitializationFailure, "资金校验器未初始化")
	}
	client, err := g.networks.Active()
	if err != nil {
		return Check{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "获取当前网络失败")
	}
	network := client.Network()

	check := Check{Network: network.Name, Currency: network.Currency, Required: amount}
	if !g.networks.IsSupported(network.Name) {
		check.Reason = ReasonUnsupportedNetwork
		return check, nil
	}

	raw, err := client.BalanceAt(ctx, account, nil)
	if err != nil {
		return Check{}, xerrors.Wrap(xerrors.CodeBalanceUnavailable, err, "读取账户余额失败",
			xerrors.WithMetadata("account", account.Hex()),
			xerrors.WithMetadata("network", network.Name))
	}
	check.Balance = ledger.FromBaseUnits(raw, network.Decimals)
	check.Sufficient = check.Balance.GreaterThanOrEqual(amount)
	check.Reason = ReasonOK
	if !check.Sufficient {
		check.Reason = ReasonInsufficient
	}
	g.log.Debug("余额校验完成",
		slog.String("account", account.Hex()),
		slog.String("network", network.Name),
		slog.String("balance", check.Balance.String()),
		slog.String("required", amount.String()),
		slog.Bool("sufficient", check.Sufficient))
	return check, nil
}
