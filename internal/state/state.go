package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/pvzzle/tokenpanel/internal/balances"
	"github.com/pvzzle/tokenpanel/internal/history"
	"github.com/pvzzle/tokenpanel/internal/network"

	"github.com/ethereum/go-ethereum/common"
)

// BusyKind names an operation whose trigger is disabled while it runs.
type BusyKind string

const (
	BusyMint      BusyKind = "mint"
	BusyBalance   BusyKind = "balance"
	BusyTransfer  BusyKind = "transfer"
	BusyPause     BusyKind = "pause"
	BusyOwnership BusyKind = "ownership"
	BusyBurn      BusyKind = "burn"
	BusyApprove   BusyKind = "approve"
	BusyHistory   BusyKind = "history"
	BusyBalances  BusyKind = "balances"
)

type LogEntry struct {
	Timestamp time.Time
	Message   string
	Duration  time.Duration // zero when not measured
}

func (e LogEntry) String() string {
	s := fmt.Sprintf("%s: %s", e.Timestamp.Format(time.DateTime), e.Message)
	if e.Duration > 0 {
		s += fmt.Sprintf(" Duration: %.2f ms.", float64(e.Duration.Microseconds())/1000)
	}
	return s
}

// Snapshot is a copy of the view state at some Version.
type Snapshot struct {
	Version uint64

	Account     common.Address
	Network     network.Identity
	TotalSupply string
	Owner       common.Address
	Paused      bool

	Logs    []LogEntry // newest first
	Busy    map[BusyKind]bool
	Overlay bool

	History  []history.Event
	Filter   history.Filter
	Filtered []history.Event

	Balances []balances.Entry
}

// Store is the per-chat view state. All mutation goes through the named
// transitions below; each bumps Version and wakes subscribers. Filtered is
// derived and recomputed whenever history, filter or account change.
type Store struct {
	mu   sync.RWMutex
	v    Snapshot
	subs map[int]chan struct{}
	next int
	now  func() time.Time
}

func New() *Store {
	return &Store{
		v: Snapshot{
			Network:     network.Identity{Label: "Unknown Network"},
			TotalSupply: "0",
			Busy:        make(map[BusyKind]bool),
			Filter:      history.FilterAll,
			Filtered:    []history.Event{},
		},
		subs: make(map[int]chan struct{}),
		now:  time.Now,
	}
}

// Subscribe returns a channel signalled after every transition. Signals
// coalesce: a slow reader sees at least one wake-up after the last change.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) update(fn func(v *Snapshot)) {
	s.mu.Lock()
	fn(&s.v)
	s.v.Version++
	subs := make([]chan struct{}, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (v *Snapshot) refilter() {
	v.Filtered = history.ApplyFilter(v.History, v.Filter, v.Account)
}

func (s *Store) SetAccount(a common.Address) {
	s.update(func(v *Snapshot) {
		v.Account = a
		v.refilter()
	})
}

func (s *Store) SetNetwork(id network.Identity) {
	s.update(func(v *Snapshot) { v.Network = id })
}

func (s *Store) SetTotalSupply(supply string) {
	s.update(func(v *Snapshot) { v.TotalSupply = supply })
}

func (s *Store) SetOwner(owner common.Address) {
	s.update(func(v *Snapshot) { v.Owner = owner })
}

func (s *Store) SetPaused(paused bool) {
	s.update(func(v *Snapshot) { v.Paused = paused })
}

// AppendLog prepends an action-log entry.
func (s *Store) AppendLog(message string, d time.Duration) {
	e := LogEntry{Timestamp: s.now(), Message: message, Duration: d}
	s.update(func(v *Snapshot) {
		v.Logs = append([]LogEntry{e}, v.Logs...)
	})
}

func (s *Store) SetBusy(kind BusyKind, busy bool) {
	s.update(func(v *Snapshot) { v.Busy[kind] = busy })
}

func (s *Store) SetOverlay(on bool) {
	s.update(func(v *Snapshot) { v.Overlay = on })
}

func (s *Store) SetHistory(events []history.Event) {
	s.update(func(v *Snapshot) {
		v.History = append([]history.Event(nil), events...)
		v.refilter()
	})
}

func (s *Store) SetFilter(f history.Filter) {
	s.update(func(v *Snapshot) {
		v.Filter = f
		v.refilter()
	})
}

func (s *Store) SetBalances(entries []balances.Entry) {
	s.update(func(v *Snapshot) {
		v.Balances = append([]balances.Entry(nil), entries...)
	})
}

func (s *Store) Account() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Account
}

func (s *Store) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Paused
}

func (s *Store) Busy(kind BusyKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Busy[kind]
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.v
	out.Logs = append([]LogEntry(nil), s.v.Logs...)
	out.History = append([]history.Event(nil), s.v.History...)
	out.Filtered = append([]history.Event{}, s.v.Filtered...)
	out.Balances = append([]balances.Entry(nil), s.v.Balances...)
	out.Busy = make(map[BusyKind]bool, len(s.v.Busy))
	for k, b := range s.v.Busy {
		out.Busy[k] = b
	}
	return out
}
