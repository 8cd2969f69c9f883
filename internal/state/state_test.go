package state

import (
	"testing"
	"time"

	"github.com/pvzzle/tokenpanel/internal/history"
	"github.com/pvzzle/tokenpanel/internal/network"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func sampleEvents() []history.Event {
	return []history.Event{
		{From: alice, To: bob, Value: "1"},
		{From: bob, To: alice, Value: "2"},
	}
}

func TestStore_FilteredFollowsInputs(t *testing.T) {
	s := New()
	events := sampleEvents()

	s.SetHistory(events)
	assert.Equal(t, events, s.Snapshot().Filtered)

	s.SetFilter(history.FilterIncoming)
	assert.Empty(t, s.Snapshot().Filtered, "no active account")

	s.SetAccount(alice)
	assert.Equal(t, []history.Event{events[1]}, s.Snapshot().Filtered)

	s.SetAccount(bob)
	assert.Equal(t, []history.Event{events[0]}, s.Snapshot().Filtered)

	s.SetFilter(history.FilterOutgoing)
	assert.Equal(t, []history.Event{events[1]}, s.Snapshot().Filtered)

	s.SetFilter(history.FilterAll)
	assert.Equal(t, events, s.Snapshot().Filtered)

	s.SetHistory(nil)
	assert.Empty(t, s.Snapshot().Filtered)
}

func TestStore_FilteredAlwaysConsistent(t *testing.T) {
	s := New()
	s.SetHistory(sampleEvents())

	for _, step := range []func(){
		func() { s.SetAccount(alice) },
		func() { s.SetFilter(history.FilterOutgoing) },
		func() { s.SetHistory(append(sampleEvents(), history.Event{From: alice, To: alice, Value: "3"})) },
		func() { s.SetAccount(bob) },
		func() { s.SetFilter(history.FilterIncoming) },
	} {
		step()
		v := s.Snapshot()
		assert.Equal(t, history.ApplyFilter(v.History, v.Filter, v.Account), v.Filtered)
	}
}

func TestStore_LogsNewestFirst(t *testing.T) {
	s := New()
	tick := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	s.AppendLog("first", 0)
	s.AppendLog("second", 1500*time.Microsecond)

	logs := s.Snapshot().Logs
	require.Len(t, logs, 2)
	assert.Equal(t, "second", logs[0].Message)
	assert.Equal(t, "first", logs[1].Message)

	assert.Equal(t, "2026-02-14 10:00:02: second Duration: 1.50 ms.", logs[0].String())
	assert.Equal(t, "2026-02-14 10:00:01: first", logs[1].String())
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := New()
	s.SetBusy(BusyMint, true)
	s.AppendLog("x", 0)

	v := s.Snapshot()
	v.Busy[BusyMint] = false
	v.Logs[0].Message = "mutated"

	assert.True(t, s.Busy(BusyMint))
	assert.Equal(t, "x", s.Snapshot().Logs[0].Message)
}

func TestStore_SubscribeCoalesces(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.SetPaused(true)
	s.SetNetwork(network.Resolve(31337))
	s.SetOverlay(true)

	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	v := s.Snapshot()
	assert.Equal(t, uint64(3), v.Version)
	assert.True(t, v.Paused)
	assert.True(t, v.Overlay)
	assert.Equal(t, "Hardhat Local Network", v.Network.Label)

	cancel()
	s.SetPaused(false)
	select {
	case <-ch:
		t.Fatal("cancelled subscription still signalled")
	default:
	}
}
