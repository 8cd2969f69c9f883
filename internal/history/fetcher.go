package history

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/pvzzle/tokenpanel/internal/ledger"
	"github.com/pvzzle/tokenpanel/internal/metrics"
)

type Source interface {
	TransferEvents(ctx context.Context, fromBlock uint64, toBlock *big.Int) ([]ledger.Transfer, error)
}

// Fetcher loads the full transfer history, genesis to latest. When fetches
// overlap, only the most recently started one is reported fresh; callers
// drop stale results instead of overwriting newer state.
type Fetcher struct {
	src     Source
	metrics *metrics.Metrics
	seq     atomic.Uint64
}

func NewFetcher(src Source, m *metrics.Metrics) *Fetcher {
	return &Fetcher{src: src, metrics: m}
}

func (f *Fetcher) Fetch(ctx context.Context) (events []Event, fresh bool, err error) {
	id := f.seq.Add(1)

	raw, err := f.src.TransferEvents(ctx, 0, nil)
	if err != nil {
		f.metrics.HistoryFetched("error")
		return nil, false, fmt.Errorf("transfer events: %w", err)
	}

	events = Normalize(raw)
	if f.seq.Load() != id {
		f.metrics.HistoryFetched("stale")
		return events, false, nil
	}
	f.metrics.HistoryFetched("fresh")
	return events, true, nil
}
