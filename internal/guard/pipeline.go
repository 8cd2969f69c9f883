package guard

import (
	"context"

	"github.com/pvzzle/tokenpanel/internal/bus"
	"github.com/pvzzle/tokenpanel/internal/metrics"
	"github.com/pvzzle/tokenpanel/internal/network"

	"go.uber.org/zap"
)

// Pipeline evaluates checks in order and stops at the first block.
type Pipeline struct {
	checks   []Check
	notifier bus.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewPipeline(n bus.Notifier, m *metrics.Metrics, log *zap.Logger, checks ...Check) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		checks:   append([]Check(nil), checks...),
		notifier: n,
		metrics:  m,
		log:      log,
	}
}

// Then returns a new pipeline running p's checks followed by extra.
func (p *Pipeline) Then(extra ...Check) *Pipeline {
	checks := make([]Check, 0, len(p.checks)+len(extra))
	checks = append(checks, p.checks...)
	checks = append(checks, extra...)
	return &Pipeline{checks: checks, notifier: p.notifier, metrics: p.metrics, log: p.log}
}

// Names lists the checks in evaluation order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.checks))
	for i, c := range p.checks {
		out[i] = c.Name()
	}
	return out
}

// Evaluate runs the checks without reporting anything.
func (p *Pipeline) Evaluate(ctx context.Context) Verdict {
	for _, c := range p.checks {
		if v := c.Check(ctx); !v.Proceed {
			return v
		}
	}
	return Verdict{Proceed: true}
}

// Allow evaluates the pipeline. A block is reported as an error notice,
// followed by the verdict's remedy if any. Blocks never touch the action log.
func (p *Pipeline) Allow(ctx context.Context) bool {
	v := p.Evaluate(ctx)
	if v.Proceed {
		return true
	}

	p.metrics.GuardBlocked(v.Check)
	p.log.Debug("operation blocked", zap.String("check", v.Check), zap.String("reason", v.Reason))
	p.notifier.Notify(ctx, bus.SeverityError, v.Reason)

	if v.Remedy != nil {
		v.Remedy(ctx)
	}
	return false
}

// Do runs op only when p allows it. ran reports whether op was invoked.
func Do[T any](ctx context.Context, p *Pipeline, op func(context.Context) (T, error)) (res T, ran bool, err error) {
	if !p.Allow(ctx) {
		return res, false, nil
	}
	res, err = op(ctx)
	return res, true, err
}

// Gates holds the two stock pipelines: Network gates reads and admin
// operations, Full additionally refuses to run while the contract is paused.
type Gates struct {
	Network *Pipeline
	Full    *Pipeline
}

// NewGates builds both pipelines over l. switched receives the new network
// after the unsupported-network remedy moved the node; it may be nil.
func NewGates(l Ledger, n bus.Notifier, switched func(network.Identity), m *metrics.Metrics, log *zap.Logger) Gates {
	netw := NewPipeline(n, m, log,
		Connectivity(l),
		SupportedNetwork(l, n, switched, log),
	)
	return Gates{
		Network: netw,
		Full:    netw.Then(NotPaused(l)),
	}
}
