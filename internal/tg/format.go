package tg

import (
	"fmt"
	"strings"

	"github.com/pvzzle/tokenpanel/internal/balances"
	"github.com/pvzzle/tokenpanel/internal/bus"
	"github.com/pvzzle/tokenpanel/internal/history"
	"github.com/pvzzle/tokenpanel/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

const (
	historyLimit = 20
	logsLimit    = 10
)

func shortenAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

func severityPrefix(sev bus.Severity) string {
	switch sev {
	case bus.SeveritySuccess:
		return "✅ "
	case bus.SeverityError:
		return "❌ "
	default:
		return "ℹ️ "
	}
}

func FormatNotice(n bus.Notification) string {
	return severityPrefix(n.Severity) + n.Text
}

func FormatSummary(v state.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Account: %s\n", v.Account.Hex())
	fmt.Fprintf(&sb, "Network: %s\n", v.Network.Label)
	fmt.Fprintf(&sb, "Total supply: %s\n", v.TotalSupply)
	fmt.Fprintf(&sb, "Owner: %s\n", v.Owner.Hex())
	if v.Paused {
		sb.WriteString("Status: paused")
	} else {
		sb.WriteString("Status: active")
	}
	return sb.String()
}

func FormatNetwork(v state.Snapshot) string {
	if !v.Network.Supported() {
		return fmt.Sprintf("🌐 %s (unsupported)", v.Network.Label)
	}
	return fmt.Sprintf("🌐 %s (chain ID %d)", v.Network.Label, v.Network.ID)
}

// FormatHistory renders the filtered projection, newest block first.
func FormatHistory(events []history.Event, f history.Filter) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🕘 History (%s)\n\n", f)

	if len(events) == 0 {
		sb.WriteString("No transactions.")
		return sb.String()
	}

	shown := 0
	for i := len(events) - 1; i >= 0 && shown < historyLimit; i-- {
		e := events[i]
		fmt.Fprintf(&sb, "• %s → %s: %s", shortenAddress(e.From), shortenAddress(e.To), e.Value)
		if e.Block > 0 {
			fmt.Fprintf(&sb, " #%d", e.Block)
		}
		sb.WriteString("\n")
		shown++
	}
	if rest := len(events) - shown; rest > 0 {
		fmt.Fprintf(&sb, "… and %d more", rest)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatLogs(logs []state.LogEntry) string {
	if len(logs) == 0 {
		return "Action log is empty."
	}
	var sb strings.Builder
	sb.WriteString("📜 Action log\n\n")
	for i, e := range logs {
		if i == logsLimit {
			break
		}
		sb.WriteString(e.String())
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatBalances(entries []balances.Entry) string {
	if len(entries) == 0 {
		return "No accounts."
	}
	var sb strings.Builder
	sb.WriteString("💰 Balances\n\n")
	for _, e := range entries {
		if e.Err != nil {
			fmt.Fprintf(&sb, "%s: unavailable\n", shortenAddress(e.Account))
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", shortenAddress(e.Account), e.Balance)
	}
	return strings.TrimRight(sb.String(), "\n")
}
