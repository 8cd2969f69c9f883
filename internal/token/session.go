package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pvzzle/tokenpanel/internal/balances"
	"github.com/pvzzle/tokenpanel/internal/bus"
	"github.com/pvzzle/tokenpanel/internal/guard"
	"github.com/pvzzle/tokenpanel/internal/history"
	"github.com/pvzzle/tokenpanel/internal/ledger"
	"github.com/pvzzle/tokenpanel/internal/metrics"
	"github.com/pvzzle/tokenpanel/internal/network"
	"github.com/pvzzle/tokenpanel/internal/runner"
	"github.com/pvzzle/tokenpanel/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	ErrNoAccounts          = errors.New("node exposes no accounts")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInsufficientBalance = errors.New("Insufficient token balance.")
)

type Config struct {
	// Account overrides the first node account as the active one.
	Account            common.Address
	MinBusy            time.Duration
	BalanceConcurrency int
}

// Session drives the token contract for one viewer: every operation goes
// through a guard pipeline, then the runner, then lands in the view store.
type Session struct {
	gw       ledger.Gateway
	store    *state.Store
	notifier bus.Notifier
	runner   *runner.Runner
	gates    guard.Gates
	history  *history.Fetcher
	metrics  *metrics.Metrics
	cfg      Config
	log      *zap.Logger
}

func NewSession(gw ledger.Gateway, n bus.Notifier, m *metrics.Metrics, log *zap.Logger, cfg Config) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	store := state.New()

	return &Session{
		gw:       gw,
		store:    store,
		notifier: n,
		runner: runner.New(store, n,
			runner.WithMinBusy(cfg.MinBusy),
			runner.WithMetrics(m),
			runner.WithLogger(log),
		),
		gates:   guard.NewGates(gw, n, store.SetNetwork, m, log),
		history: history.NewFetcher(gw, m),
		metrics: m,
		cfg:     cfg,
		log:     log,
	}
}

func (s *Session) State() *state.Store { return s.store }

// Connect loads the account, network and contract summary into the view.
func (s *Session) Connect(ctx context.Context) bool {
	if err := s.connect(ctx); err != nil {
		msg := fmt.Sprintf("Failed to connect to the blockchain: %v", err)
		s.log.Error("connect failed", zap.Error(err))
		s.notifier.Notify(ctx, bus.SeverityError, msg)
		s.store.AppendLog(msg, 0)
		return false
	}
	return true
}

func (s *Session) connect(ctx context.Context) error {
	account := s.cfg.Account
	if account == (common.Address{}) {
		accounts, err := s.gw.Accounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return ErrNoAccounts
		}
		account = accounts[0]
	}
	s.store.SetAccount(account)

	id, err := s.gw.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	s.store.SetNetwork(network.ResolveBig(id))

	supply, err := s.gw.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("total supply: %w", err)
	}
	s.store.SetTotalSupply(ledger.FromBaseUnits(supply))

	owner, err := s.gw.Owner(ctx)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	s.store.SetOwner(owner)

	paused, err := s.gw.Paused(ctx)
	if err != nil {
		return fmt.Errorf("paused: %w", err)
	}
	s.store.SetPaused(paused)

	s.log.Info("connected", zap.String("account", account.Hex()), zap.Int64("chain_id", id.Int64()))
	return nil
}

// perform gates op, then runs it under the overlay and the kind's busy
// flag. op returns the success message.
func (s *Session) perform(ctx context.Context, gate *guard.Pipeline, kind state.BusyKind, errPrefix string, op func(context.Context) (string, error)) bool {
	ok, _, _ := guard.Do(ctx, gate, func(ctx context.Context) (bool, error) {
		var ok bool
		s.runner.Spin(ctx, s.store.SetOverlay, func(ctx context.Context) {
			_, ok = runner.Run(ctx, s.runner, string(kind), op,
				func(b bool) { s.store.SetBusy(kind, b) },
				func(msg string) string { return msg },
				errPrefix,
			)
		})
		return ok, nil
	})
	return ok
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func (s *Session) refreshSupply(ctx context.Context) error {
	supply, err := s.gw.TotalSupply(ctx)
	if err != nil {
		return fmt.Errorf("total supply: %w", err)
	}
	s.store.SetTotalSupply(ledger.FromBaseUnits(supply))
	return nil
}

func (s *Session) Mint(ctx context.Context, amount string) bool {
	return s.perform(ctx, s.gates.Full, state.BusyMint, "Error minting tokens", func(ctx context.Context) (string, error) {
		value, err := ledger.ToBaseUnits(amount)
		if err != nil {
			return "", err
		}
		account := s.store.Account()
		if _, err := s.gw.Mint(ctx, account, account, value); err != nil {
			return "", err
		}
		if err := s.refreshSupply(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully minted %s tokens!", amount), nil
	})
}

func (s *Session) CheckBalance(ctx context.Context) bool {
	return s.perform(ctx, s.gates.Network, state.BusyBalance, "Error getting balance", func(ctx context.Context) (string, error) {
		raw, err := s.gw.BalanceOf(ctx, s.store.Account())
		if err != nil {
			return "", err
		}
		s.notifier.Notify(ctx, bus.SeverityInfo, fmt.Sprintf("Your balance: %s tokens", ledger.FromBaseUnits(raw)))
		return "Balance check complete.", nil
	})
}

// Transfer sends tokens from the active account after checking its
// balance, then reloads the history.
func (s *Session) Transfer(ctx context.Context, recipient, amount string) bool {
	ok := s.perform(ctx, s.gates.Full, state.BusyTransfer, "Error transferring tokens", func(ctx context.Context) (string, error) {
		to, err := parseAddress(recipient)
		if err != nil {
			return "", err
		}
		value, err := ledger.ToBaseUnits(amount)
		if err != nil {
			return "", err
		}

		account := s.store.Account()
		balance, err := s.gw.BalanceOf(ctx, account)
		if err != nil {
			return "", err
		}
		if balance.Cmp(value) < 0 {
			return "", ErrInsufficientBalance
		}

		if _, err := s.gw.Transfer(ctx, account, to, value); err != nil {
			return "", err
		}
		return fmt.Sprintf("Transferred %s tokens to %s", amount, to.Hex()), nil
	})
	if ok {
		s.RefreshHistory(ctx)
	}
	return ok
}

func (s *Session) TransferFrom(ctx context.Context, owner, recipient, amount string) bool {
	ok := s.perform(ctx, s.gates.Full, state.BusyTransfer, "Error transferring tokens", func(ctx context.Context) (string, error) {
		from, err := parseAddress(owner)
		if err != nil {
			return "", err
		}
		to, err := parseAddress(recipient)
		if err != nil {
			return "", err
		}
		value, err := ledger.ToBaseUnits(amount)
		if err != nil {
			return "", err
		}
		if _, err := s.gw.TransferFrom(ctx, s.store.Account(), from, to, value); err != nil {
			return "", err
		}
		return fmt.Sprintf("Transferred %s tokens from %s to %s", amount, from.Hex(), to.Hex()), nil
	})
	if ok {
		s.RefreshHistory(ctx)
	}
	return ok
}

func (s *Session) Approve(ctx context.Context, spender, amount string) bool {
	return s.perform(ctx, s.gates.Full, state.BusyApprove, "Error approving allowance", func(ctx context.Context) (string, error) {
		to, err := parseAddress(spender)
		if err != nil {
			return "", err
		}
		value, err := ledger.ToBaseUnits(amount)
		if err != nil {
			return "", err
		}
		account := s.store.Account()
		if _, err := s.gw.Approve(ctx, account, to, value); err != nil {
			return "", err
		}
		allowance, err := s.gw.Allowance(ctx, account, to)
		if err != nil {
			return "", fmt.Errorf("allowance: %w", err)
		}
		return fmt.Sprintf("Approved %s to spend %s tokens (allowance: %s)", to.Hex(), amount, ledger.FromBaseUnits(allowance)), nil
	})
}

func (s *Session) Burn(ctx context.Context, amount string) bool {
	return s.perform(ctx, s.gates.Full, state.BusyBurn, "Error burning tokens", func(ctx context.Context) (string, error) {
		value, err := ledger.ToBaseUnits(amount)
		if err != nil {
			return "", err
		}
		if _, err := s.gw.Burn(ctx, s.store.Account(), value); err != nil {
			return "", err
		}
		if err := s.refreshSupply(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Burned %s tokens", amount), nil
	})
}

func (s *Session) BurnFrom(ctx context.Context, account, amount string) bool {
	return s.perform(ctx, s.gates.Full, state.BusyBurn, "Error burning tokens", func(ctx context.Context) (string, error) {
		from, err := parseAddress(account)
		if err != nil {
			return "", err
		}
		value, err := ledger.ToBaseUnits(amount)
		if err != nil {
			return "", err
		}
		if _, err := s.gw.BurnFrom(ctx, s.store.Account(), from, value); err != nil {
			return "", err
		}
		if err := s.refreshSupply(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Burned %s tokens from %s", amount, from.Hex()), nil
	})
}

// TransferOwnership is gated on the network only.
func (s *Session) TransferOwnership(ctx context.Context, newOwner string) bool {
	return s.perform(ctx, s.gates.Network, state.BusyOwnership, "Error transferring ownership", func(ctx context.Context) (string, error) {
		to, err := parseAddress(newOwner)
		if err != nil {
			return "", err
		}
		if _, err := s.gw.TransferOwnership(ctx, s.store.Account(), to); err != nil {
			return "", err
		}
		owner, err := s.gw.Owner(ctx)
		if err != nil {
			return "", err
		}
		s.store.SetOwner(owner)
		return fmt.Sprintf("Ownership transferred to %s", to.Hex()), nil
	})
}

// TogglePause flips the contract's pause state. It has to run while paused,
// so only the network is checked.
func (s *Session) TogglePause(ctx context.Context) bool {
	return s.perform(ctx, s.gates.Network, state.BusyPause, "Error toggling pause state", func(ctx context.Context) (string, error) {
		wasPaused := s.store.Paused()
		account := s.store.Account()

		var err error
		if wasPaused {
			_, err = s.gw.Unpause(ctx, account)
		} else {
			_, err = s.gw.Pause(ctx, account)
		}
		if err != nil {
			return "", err
		}

		paused, err := s.gw.Paused(ctx)
		if err != nil {
			return "", err
		}
		s.store.SetPaused(paused)

		if wasPaused {
			return "Contract unpaused.", nil
		}
		return "Contract paused.", nil
	})
}

// AllBalances fans out over every node account. The whole fan-out is one
// action-log entry; accounts that failed are reported one notice each.
func (s *Session) AllBalances(ctx context.Context) ([]balances.Entry, bool) {
	entries, ran, err := guard.Do(ctx, s.gates.Network, func(ctx context.Context) ([]balances.Entry, error) {
		s.store.SetBusy(state.BusyBalances, true)
		defer s.store.SetBusy(state.BusyBalances, false)

		start := time.Now()
		entries, err := balances.Aggregate(ctx, s.gw, s.cfg.BalanceConcurrency)
		elapsed := time.Since(start)

		if err != nil {
			msg := fmt.Sprintf("Error fetching token balances: %v", err)
			s.store.AppendLog(msg, elapsed)
			s.notifier.Notify(ctx, bus.SeverityError, msg)
			return nil, err
		}

		failed := balances.Failed(entries)
		s.metrics.BalanceFailed(failed)
		s.store.AppendLog("Token balances fetched", elapsed)
		s.store.SetBalances(entries)

		for _, e := range entries {
			if e.Err != nil {
				s.notifier.Notify(ctx, bus.SeverityError, fmt.Sprintf("Balance of %s unavailable: %v", e.Account.Hex(), e.Err))
			}
		}
		return entries, nil
	})
	return entries, ran && err == nil
}

// RefreshHistory reloads transfer history. A result overtaken by a newer
// fetch is discarded.
func (s *Session) RefreshHistory(ctx context.Context) bool {
	ok, _, _ := guard.Do(ctx, s.gates.Network, func(ctx context.Context) (bool, error) {
		s.store.SetBusy(state.BusyHistory, true)
		defer s.store.SetBusy(state.BusyHistory, false)

		events, fresh, err := s.history.Fetch(ctx)
		if err != nil {
			s.log.Error("history fetch failed", zap.Error(err))
			s.notifier.Notify(ctx, bus.SeverityError, "Failed to fetch transaction history.")
			return false, nil
		}
		if !fresh {
			s.log.Debug("dropping stale history result", zap.Int("events", len(events)))
			return false, nil
		}
		s.store.SetHistory(events)
		return true, nil
	})
	return ok
}

func (s *Session) SetFilter(f history.Filter) { s.store.SetFilter(f) }
