package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ReputationService is the reputation program as seen by the rating coordinator.
type ReputationService interface {
	Submit(ctx context.Context, opts *bind.TransactOpts, provider common.Address, score uint8) (Confirmation, error)
	Aggregate(ctx context.Context, provider common.Address) (numerator, denominator *big.Int, err error)
	HasInteracted(ctx context.Context, client, provider common.Address) (bool, error)
}

// Reputation talks to the reputation program at a fixed address.
type Reputation struct {
	tx      *transactor
	address common.Address
}

// Address returns the program address.
func (r *Reputation) Address() common.Address {
	return r.address
}

// Submit records a score for provider on behalf of opts.From.
func (r *Reputation) Submit(ctx context.Context, opts *bind.TransactOpts, provider common.Address, score uint8) (Confirmation, error) {
	return r.tx.transact(ctx, opts, ReputationABI, r.address, nil, MethodSubmitRating, provider, score)
}

// Aggregate returns the running score total and rating count for provider.
func (r *Reputation) Aggregate(ctx context.Context, provider common.Address) (*big.Int, *big.Int, error) {
	values, err := r.tx.call(ctx, ReputationABI, r.address, MethodGetAverageRating, provider)
	if err != nil {
		return nil, nil, err
	}
	if len(values) != 2 {
		return nil, nil, malformed(MethodGetAverageRating, "numerator/denominator")
	}
	numerator, ok := values[0].(*big.Int)
	if !ok {
		return nil, nil, malformed(MethodGetAverageRating, "numerator")
	}
	denominator, ok := values[1].(*big.Int)
	if !ok {
		return nil, nil, malformed(MethodGetAverageRating, "denominator")
	}
	return numerator, denominator, nil
}

// HasInteracted reports whether client and provider share a completed agreement.
func (r *Reputation) HasInteracted(ctx context.Context, client, provider common.Address) (bool, error) {
	values, err := r.tx.call(ctx, ReputationABI, r.address, MethodHasInteracted, client, provider)
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, malformed(MethodHasInteracted, "result")
	}
	interacted, ok := values[0].(bool)
	if !ok {
		return false, malformed(MethodHasInteracted, "result")
	}
	return interacted, nil
}

var _ ReputationService = (*Reputation)(nil)
