package balances

import (
	"context"
	"fmt"
	"math/big"

	"github.com/pvzzle/tokenpanel/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 8

// Entry is one account's balance. A failed query leaves Balance empty and
// sets Err; it never fails the other accounts.
type Entry struct {
	Account common.Address
	Balance string
	Err     error
}

type Source interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// Aggregate queries every known account concurrently and waits for all of
// them. Only a failure to enumerate accounts fails the whole call. Entries
// keep the enumeration order.
func Aggregate(ctx context.Context, src Source, concurrency int) ([]Entry, error) {
	accounts, err := src.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	out := make([]Entry, len(accounts))

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, acc := range accounts {
		i, acc := i, acc
		g.Go(func() error {
			out[i].Account = acc

			bal, err := src.BalanceOf(ctx, acc)
			if err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Balance = ledger.FromBaseUnits(bal)
			return nil
		})
	}
	_ = g.Wait()

	return out, nil
}

func Failed(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Err != nil {
			n++
		}
	}
	return n
}
