package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	xerrors "CreatorServices/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// RawAgreement is an escrow record exactly as the program reports it.
type RawAgreement struct {
	ID          uint64
	Client      common.Address
	Provider    common.Address
	Amount      *big.Int
	Title       string
	Description string
	Deadline    uint64
	StatusCode  uint8
}

// CreateRequest carries the arguments of createProject. Amount is in the
// currency's smallest unit; a zero Deadline means none.
type CreateRequest struct {
	Provider    common.Address
	Amount      *big.Int
	Title       string
	Description string
	Deadline    time.Time
}

// EscrowService is the escrow program as seen by the lifecycle coordinator.
type EscrowService interface {
	Create(ctx context.Context, opts *bind.TransactOpts, req CreateRequest) (uint64, Confirmation, error)
	Respond(ctx context.Context, opts *bind.TransactOpts, id uint64, approve bool) (Confirmation, error)
	MarkCompleted(ctx context.Context, opts *bind.TransactOpts, id uint64) (Confirmation, error)
	Get(ctx context.Context, id uint64) (RawAgreement, error)
	Count(ctx context.Context) (uint64, error)
}

// Escrow talks to the escrow program at a fixed address.
type Escrow struct {
	tx      *transactor
	address common.Address
}

// Address returns the program address.
func (e *Escrow) Address() common.Address {
	return e.address
}

// Create funds a new agreement and returns the identifier recovered from the
// ProjectCreated record of the confirmed transaction.
func (e *Escrow) Create(ctx context.Context, opts *bind.TransactOpts, req CreateRequest) (uint64, Confirmation, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return 0, Confirmation{}, xerrors.New(xerrors.CodeInvalidArgument, "托管金额必须大于 0")
	}
	deadline := new(big.Int)
	if !req.Deadline.IsZero() {
		deadline.SetInt64(req.Deadline.Unix())
	}

	conf, err := e.tx.transact(ctx, opts, EscrowABI, e.address, req.Amount, MethodCreateProject,
		req.Provider, req.Title, req.Description, deadline)
	if err != nil {
		return 0, Confirmation{}, err
	}

	id, err := e.agreementIDFromLogs(conf)
	if err != nil {
		return 0, conf, err
	}
	return id, conf, nil
}

func (e *Escrow) agreementIDFromLogs(conf Confirmation) (uint64, error) {
	event := EscrowABI.Events[EventProjectCreated]
	for _, log := range conf.Logs {
		if log == nil || log.Address != e.address || len(log.Topics) < 2 || log.Topics[0] != event.ID {
			continue
		}
		if _, err := EscrowABI.Unpack(EventProjectCreated, log.Data); err != nil {
			continue
		}
		id := new(big.Int).SetBytes(log.Topics[1].Bytes())
		if !id.IsUint64() {
			break
		}
		return id.Uint64(), nil
	}
	return 0, xerrors.New(xerrors.CodeConfirmationUnparseable, "交易回执中缺少可解析的 ProjectCreated 事件",
		xerrors.WithMetadata("tx_hash", conf.TxHash.Hex()))
}

// Respond approves or rejects a proposed agreement.
func (e *Escrow) Respond(ctx context.Context, opts *bind.TransactOpts, id uint64, approve bool) (Confirmation, error) {
	method := MethodRejectProject
	if approve {
		method = MethodApproveProject
	}
	return e.tx.transact(ctx, opts, EscrowABI, e.address, nil, method, new(big.Int).SetUint64(id))
}

// MarkCompleted reports the agreement's work as delivered.
func (e *Escrow) MarkCompleted(ctx context.Context, opts *bind.TransactOpts, id uint64) (Confirmation, error) {
	return e.tx.transact(ctx, opts, EscrowABI, e.address, nil, MethodMarkCompleted, new(big.Int).SetUint64(id))
}

// Get reads a single agreement record.
func (e *Escrow) Get(ctx context.Context, id uint64) (RawAgreement, error) {
	values, err := e.tx.call(ctx, EscrowABI, e.address, MethodGetProject, new(big.Int).SetUint64(id))
	if err != nil {
		return RawAgreement{}, err
	}
	if len(values) != 7 {
		return RawAgreement{}, malformed(MethodGetProject, fmt.Sprintf("期望 7 个返回值，实际 %d", len(values)))
	}

	record := RawAgreement{ID: id}
	var ok bool
	if record.Client, ok = values[0].(common.Address); !ok {
		return RawAgreement{}, malformed(MethodGetProject, "client")
	}
	if record.Provider, ok = values[1].(common.Address); !ok {
		return RawAgreement{}, malformed(MethodGetProject, "provider")
	}
	if record.Amount, ok = values[2].(*big.Int); !ok {
		return RawAgreement{}, malformed(MethodGetProject, "amount")
	}
	if record.Title, ok = values[3].(string); !ok {
		return RawAgreement{}, malformed(MethodGetProject, "title")
	}
	if record.Description, ok = values[4].(string); !ok {
		return RawAgreement{}, malformed(MethodGetProject, "description")
	}
	deadline, ok := values[5].(*big.Int)
	if !ok || !deadline.IsUint64() {
		return RawAgreement{}, malformed(MethodGetProject, "deadline")
	}
	record.Deadline = deadline.Uint64()
	if record.StatusCode, ok = values[6].(uint8); !ok {
		return RawAgreement{}, malformed(MethodGetProject, "status")
	}
	return record, nil
}

// Count returns the number of agreements ever created.
func (e *Escrow) Count(ctx context.Context) (uint64, error) {
	values, err := e.tx.call(ctx, EscrowABI, e.address, MethodGetProjectsCount)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, malformed(MethodGetProjectsCount, "count")
	}
	count, ok := values[0].(*big.Int)
	if !ok || !count.IsUint64() {
		return 0, malformed(MethodGetProjectsCount, "count")
	}
	return count.Uint64(), nil
}

func malformed(method, field string) error {
	return xerrors.New(xerrors.CodeLedgerReadFailed, fmt.Sprintf("%s 返回值格式异常: %s", method, strings.TrimSpace(field)))
}

var _ EscrowService = (*Escrow)(nil)
