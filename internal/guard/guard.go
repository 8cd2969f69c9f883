package guard

import (
	"context"
	"fmt"
	"math/big"

	"github.com/pvzzle/tokenpanel/internal/bus"
	"github.com/pvzzle/tokenpanel/internal/network"

	"go.uber.org/zap"
)

const (
	CheckConnectivity = "connectivity"
	CheckNetwork      = "supported_network"
	CheckNotPaused    = "not_paused"
)

// Verdict is the outcome of one check. A blocking verdict may carry a
// Remedy: a best-effort side effect run after the block is reported. The
// blocked operation is never retried on the caller's behalf.
type Verdict struct {
	Proceed bool
	Check   string
	Reason  string
	Remedy  func(ctx context.Context)
}

func proceed(check string) Verdict { return Verdict{Proceed: true, Check: check} }

func block(check, reason string) Verdict {
	return Verdict{Check: check, Reason: reason}
}

type Check interface {
	Name() string
	Check(ctx context.Context) Verdict
}

type Listener interface {
	IsListening(ctx context.Context) (bool, error)
}

type NetworkSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID int64) error
}

type PauseSource interface {
	Paused(ctx context.Context) (bool, error)
}

// Ledger is everything the stock checks read.
type Ledger interface {
	Listener
	NetworkSource
	PauseSource
}

type connectivity struct{ l Listener }

func Connectivity(l Listener) Check { return connectivity{l: l} }

func (connectivity) Name() string { return CheckConnectivity }

func (c connectivity) Check(ctx context.Context) Verdict {
	ok, err := c.l.IsListening(ctx)
	if err != nil || !ok {
		return block(CheckConnectivity, "No connection to blockchain network.")
	}
	return proceed(CheckConnectivity)
}

type supportedNetwork struct {
	src      NetworkSource
	notifier bus.Notifier
	switched func(network.Identity)
	log      *zap.Logger
}

// SupportedNetwork blocks on chains outside the supported table and asks
// the node to switch to network.DefaultChainID. After a successful switch
// the chain is read back and handed to switched, which may be nil.
func SupportedNetwork(src NetworkSource, n bus.Notifier, switched func(network.Identity), log *zap.Logger) Check {
	if log == nil {
		log = zap.NewNop()
	}
	return supportedNetwork{src: src, notifier: n, switched: switched, log: log}
}

func (supportedNetwork) Name() string { return CheckNetwork }

func (c supportedNetwork) Check(ctx context.Context) Verdict {
	id, err := c.src.ChainID(ctx)
	if err != nil {
		return block(CheckNetwork, fmt.Sprintf("Unable to determine the current network: %v", err))
	}

	ident := network.ResolveBig(id)
	if ident.Supported() {
		return proceed(CheckNetwork)
	}

	v := block(CheckNetwork, fmt.Sprintf("Unsupported network: %s. Switching to a supported network...", ident.Label))
	v.Remedy = c.switchToDefault
	return v
}

func (c supportedNetwork) switchToDefault(ctx context.Context) {
	if err := c.src.SwitchChain(ctx, network.DefaultChainID); err != nil {
		c.log.Warn("network switch failed", zap.Int64("target", network.DefaultChainID), zap.Error(err))
		c.notifier.Notify(ctx, bus.SeverityError, "Failed to switch network. Please do it manually.")
		return
	}
	if c.switched != nil {
		id, err := c.src.ChainID(ctx)
		if err != nil {
			c.log.Warn("chain id after switch", zap.Error(err))
		} else {
			c.switched(network.ResolveBig(id))
		}
	}
	c.notifier.Notify(ctx, bus.SeverityInfo, "Switched to a supported network. Retry the operation.")
}

type notPaused struct{ src PauseSource }

func NotPaused(src PauseSource) Check { return notPaused{src: src} }

func (notPaused) Name() string { return CheckNotPaused }

func (c notPaused) Check(ctx context.Context) Verdict {
	paused, err := c.src.Paused(ctx)
	if err != nil {
		return block(CheckNotPaused, fmt.Sprintf("Unable to read contract pause state: %v", err))
	}
	if paused {
		return block(CheckNotPaused, "Contract is paused")
	}
	return proceed(CheckNotPaused)
}
