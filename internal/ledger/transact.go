package ledger

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/big"
	"time"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/observability/metrics"
	"CreatorServices/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Confirmation summarises a mined, successful ledger write.
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Logs        []*coretypes.Log
}

// transactor signs, sends and confirms program calls through bind.BoundContract.
type transactor struct {
	backend        web3.Backend
	confirmTimeout time.Duration
}

func (t *transactor) bound(contract abi.ABI, address common.Address) *bind.BoundContract {
	return bind.NewBoundContract(address, contract, t.backend, t.backend, t.backend)
}

func (t *transactor) call(ctx context.Context, contract abi.ABI, address common.Address, method string, args ...any) ([]any, error) {
	started := time.Now()
	values, err := t.doCall(ctx, contract, address, method, args...)
	metrics.ObserveLedgerCall(method, "read", err == nil, time.Since(started))
	return values, err
}

func (t *transactor) doCall(ctx context.Context, contract abi.ABI, address common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("编码 %s 调用失败", method))
	}
	out, err := t.bound(contract, address).CallRaw(&bind.CallOpts{Context: ctx}, data)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerReadFailed, err, fmt.Sprintf("调用 %s 失败", method))
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerReadFailed, err, fmt.Sprintf("解码 %s 返回值失败", method))
	}
	return values, nil
}

func (t *transactor) transact(ctx context.Context, opts *bind.TransactOpts, contract abi.ABI, address common.Address, value *big.Int, method string, args ...any) (Confirmation, error) {
	started := time.Now()
	conf, err := t.doTransact(ctx, opts, contract, address, value, method, args...)
	metrics.ObserveLedgerCall(method, "write", err == nil, time.Since(started))
	return conf, err
}

// doTransact honours the nonce, fee and gas fields set on opts. Context, NoSend
// and, when given, Value are overridden.
func (t *transactor) doTransact(ctx context.Context, opts *bind.TransactOpts, contract abi.ABI, address common.Address, value *big.Int, method string, args ...any) (Confirmation, error) {
	if opts == nil || opts.Signer == nil {
		return Confirmation{}, xerrors.New(xerrors.CodeNotAuthorized, "未提供交易签名器")
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Confirmation{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("编码 %s 调用失败", method))
	}

	send := *opts
	send.Context = ctx
	send.NoSend = false
	if value != nil {
		send.Value = value
	}
	tx, err := t.bound(contract, address).RawTransact(&send, data)
	if err != nil {
		return Confirmation{}, writeFailed(method, err, "发送交易失败")
	}
	hash := xerrors.WithMetadata("tx_hash", tx.Hash().Hex())

	waitCtx, cancel := context.WithTimeout(ctx, t.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, t.backend, tx)
	if err != nil {
		return Confirmation{}, confirmFailed(ctx, method, err, hash)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return Confirmation{}, xerrors.New(xerrors.CodeLedgerWriteFailed, fmt.Sprintf("%s 交易被回滚", method), hash)
	}

	conf := Confirmation{TxHash: tx.Hash(), GasUsed: receipt.GasUsed, Logs: receipt.Logs}
	if receipt.BlockNumber != nil {
		conf.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return conf, nil
}

// confirmFailed tells a caller that gave up apart from a receipt that never
// arrived. The transaction may still be mined in either case.
func confirmFailed(ctx context.Context, method string, err error, hash xerrors.Option) error {
	if stdErrors.Is(ctx.Err(), context.Canceled) {
		return writeFailed(method, ctx.Err(), "调用方已取消等待交易确认", hash,
			xerrors.WithMetadata("wait", "canceled"))
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return writeFailed(method, xerrors.Wrap(xerrors.CodeTimeout, err, "交易确认超时"), "等待交易确认失败", hash,
			xerrors.WithMetadata("wait", "deadline_exceeded"))
	}
	return writeFailed(method, err, "等待交易确认失败", hash)
}

func writeFailed(method string, cause error, message string, opts ...xerrors.Option) error {
	opts = append(opts, xerrors.WithMetadata("method", method))
	return xerrors.Wrap(xerrors.CodeLedgerWriteFailed, cause, message, opts...)
}
