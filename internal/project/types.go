package project

import (
	"fmt"
	"strings"
	"time"

	xerrors "CreatorServices/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Agreement is an escrow record with its canonical state. Amount is in the
// network's settlement currency.
type Agreement struct {
	ID          uint64          `json:"id"`
	Network     string          `json:"network"`
	Client      common.Address  `json:"client"`
	Provider    common.Address  `json:"provider"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	State       State           `json:"state"`
	StatusCode  uint8           `json:"status_code"`
}

// CreateRequest describes a new agreement funded by Client.
type CreateRequest struct {
	Client      common.Address
	Provider    common.Address
	Amount      decimal.Decimal
	Title       string
	Description string
	Deadline    *time.Time
}

// Receipt reports a confirmed write.
type Receipt struct {
	AgreementID uint64 `json:"agreement_id"`
	State       State  `json:"state"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// Skipped is an agreement id a scan could not read or classify.
type Skipped struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason"`
}

// Buckets is one role-scoped view of the agreements of an account, in id
// order within each bucket.
type Buckets struct {
	Account   common.Address `json:"account"`
	Role      Role           `json:"role"`
	Network   string         `json:"network"`
	Currency  string         `json:"currency"`
	Total     uint64         `json:"total"`
	ScannedAt time.Time      `json:"scanned_at"`
	Pending   []Agreement    `json:"pending"`
	Active    []Agreement    `json:"active"`
	Completed []Agreement    `json:"completed"`
	Rejected  []Agreement    `json:"rejected"`
	Skipped   []Skipped      `json:"skipped,omitempty"`
}

// Partial returns PARTIAL_SCAN_FAILURE when some ids were skipped. The view
// is still usable.
func (b Buckets) Partial() error {
	if len(b.Skipped) == 0 {
		return nil
	}
	ids := make([]string, 0, len(b.Skipped))
	for _, s := range b.Skipped {
		ids = append(ids, fmt.Sprint(s.ID))
	}
	return xerrors.New(xerrors.CodePartialScanFailure, fmt.Sprintf("%d 条合约记录读取失败", len(b.Skipped)),
		xerrors.WithMetadata("ids", strings.Join(ids, ",")))
}

// Len counts the agreements across all buckets.
func (b Buckets) Len() int {
	return len(b.Pending) + len(b.Active) + len(b.Completed) + len(b.Rejected)
}

func (b Buckets) clone() Buckets {
	out := b
	out.Pending = append([]Agreement(nil), b.Pending...)
	out.Active = append([]Agreement(nil), b.Active...)
	out.Completed = append([]Agreement(nil), b.Completed...)
	out.Rejected = append([]Agreement(nil), b.Rejected...)
	out.Skipped = append([]Skipped(nil), b.Skipped...)
	return out
}

func (b *Buckets) add(a Agreement) {
	switch a.State {
	case StateProposed:
		b.Pending = append(b.Pending, a)
	case StateAccepted, StateInProgress:
		b.Active = append(b.Active, a)
	case StateCompleted:
		b.Completed = append(b.Completed, a)
	case StateRejected:
		b.Rejected = append(b.Rejected, a)
	}
}
