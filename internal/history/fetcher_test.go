package history

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/pvzzle/tokenpanel/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceFunc func(ctx context.Context, from uint64, to *big.Int) ([]ledger.Transfer, error)

func (f sourceFunc) TransferEvents(ctx context.Context, from uint64, to *big.Int) ([]ledger.Transfer, error) {
	return f(ctx, from, to)
}

func TestFetcher_GenesisToLatest(t *testing.T) {
	var gotFrom uint64 = 99
	var gotTo *big.Int = big.NewInt(1)

	f := NewFetcher(sourceFunc(func(_ context.Context, from uint64, to *big.Int) ([]ledger.Transfer, error) {
		gotFrom, gotTo = from, to
		return []ledger.Transfer{{From: alice, To: bob, Value: big.NewInt(5e17)}}, nil
	}), nil)

	events, fresh, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, uint64(0), gotFrom)
	assert.Nil(t, gotTo)
	require.Len(t, events, 1)
	assert.Equal(t, "0.5", events[0].Value)
}

func TestFetcher_StaleResultIsFlagged(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	calls := 0

	f := NewFetcher(sourceFunc(func(context.Context, uint64, *big.Int) ([]ledger.Transfer, error) {
		calls++
		if calls == 1 {
			close(started)
			<-release
		}
		return nil, nil
	}), nil)

	type result struct {
		fresh bool
		err   error
	}
	firstDone := make(chan result)
	go func() {
		_, fresh, err := f.Fetch(context.Background())
		firstDone <- result{fresh: fresh, err: err}
	}()

	<-started
	_, fresh, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, fresh)

	close(release)
	first := <-firstDone
	require.NoError(t, first.err)
	assert.False(t, first.fresh)
}

func TestFetcher_Error(t *testing.T) {
	boom := errors.New("connection refused")
	f := NewFetcher(sourceFunc(func(context.Context, uint64, *big.Int) ([]ledger.Transfer, error) {
		return nil, boom
	}), nil)

	_, fresh, err := f.Fetch(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, fresh)
}
