package history

import (
	"fmt"
	"strings"

	"github.com/pvzzle/tokenpanel/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

type Filter string

const (
	FilterAll      Filter = "all"
	FilterIncoming Filter = "incoming"
	FilterOutgoing Filter = "outgoing"
)

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterAll, FilterIncoming, FilterOutgoing:
		return f, nil
	default:
		return "", fmt.Errorf("unknown history filter %q", s)
	}
}

// Event is a normalized transfer; Value is a decimal token amount.
type Event struct {
	From   common.Address
	To     common.Address
	Value  string
	Block  uint64
	TxHash common.Hash
}

func Normalize(raw []ledger.Transfer) []Event {
	out := make([]Event, 0, len(raw))
	for _, t := range raw {
		out = append(out, Event{
			From:   t.From,
			To:     t.To,
			Value:  ledger.FromBaseUnits(t.Value),
			Block:  t.BlockNumber,
			TxHash: t.TxHash,
		})
	}
	return out
}

// ApplyFilter projects events onto the active account's point of view.
// Addresses compare by value, so hex case never matters. FilterAll (and
// any unknown filter) returns events as is; with no active account the
// directional filters match nothing.
func ApplyFilter(events []Event, f Filter, account common.Address) []Event {
	var match func(Event) bool
	switch f {
	case FilterIncoming:
		match = func(e Event) bool { return e.To == account }
	case FilterOutgoing:
		match = func(e Event) bool { return e.From == account }
	default:
		return events
	}

	out := make([]Event, 0)
	if account == (common.Address{}) {
		return out
	}
	for _, e := range events {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}
