package token

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreatesOncePerChat(t *testing.T) {
	gw := newFakeGateway()
	var built int
	var mu sync.Mutex
	r := NewRegistry(func(int64) *Session {
		mu.Lock()
		built++
		mu.Unlock()
		return NewSession(gw, &recorder{}, nil, nil, Config{})
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Session(42)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, built)
	assert.Equal(t, 1, r.Len())

	s, created := r.Session(42)
	assert.False(t, created)
	got, ok := r.Lookup(42)
	require.True(t, ok)
	assert.Same(t, s, got)

	r.Drop(42)
	_, ok = r.Lookup(42)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistry_Involving(t *testing.T) {
	gw := newFakeGateway()
	accounts := map[int64]Config{1: {Account: alice}, 2: {Account: bob}, 3: {Account: carol}}
	r := NewRegistry(func(chatID int64) *Session {
		return NewSession(gw, &recorder{}, nil, nil, accounts[chatID])
	})

	for chatID := range accounts {
		s, created := r.Session(chatID)
		require.True(t, created)
		s.State().SetAccount(accounts[chatID].Account)
	}
	// not connected yet: no account
	r.Session(4)

	assert.ElementsMatch(t, []int64{1, 2}, r.Involving(alice, bob))
	assert.Equal(t, []int64{3}, r.Involving(carol, carol))
	assert.Empty(t, r.Involving(common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd"), common.Address{}))
}
