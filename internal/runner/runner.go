package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/pvzzle/tokenpanel/internal/bus"
	"github.com/pvzzle/tokenpanel/internal/metrics"

	"go.uber.org/zap"
)

// DefaultMinBusy keeps fast operations from flickering the busy indicator.
const DefaultMinBusy = 500 * time.Millisecond

// ActionLog receives one entry per finished operation. A zero duration
// means "not measured".
type ActionLog interface {
	AppendLog(message string, d time.Duration)
}

// Message renders the success text from the operation's result.
type Message[T any] func(T) string

// Text is a Message ignoring the result.
func Text[T any](s string) Message[T] {
	return func(T) string { return s }
}

type Runner struct {
	log      ActionLog
	notifier bus.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	minBusy  time.Duration
}

type Option func(*Runner)

func WithMinBusy(d time.Duration) Option {
	return func(r *Runner) { r.minBusy = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(log ActionLog, n bus.Notifier, opts ...Option) *Runner {
	r := &Runner{
		log:      log,
		notifier: n,
		logger:   zap.NewNop(),
		minBusy:  DefaultMinBusy,
	}
	for _, o := range opts {
		o(r)
	}
	if r.minBusy < 0 {
		r.minBusy = 0
	}
	return r
}

// Run executes op with busy raised, then records the outcome in the action
// log and as a notice. Failures end here: the caller only learns ok=false.
func Run[T any](
	ctx context.Context,
	r *Runner,
	name string,
	op func(context.Context) (T, error),
	busy func(bool),
	success Message[T],
	errPrefix string,
) (res T, ok bool) {
	busy(true)
	defer busy(false)

	start := time.Now()
	res, err := op(ctx)
	elapsed := time.Since(start)

	r.metrics.OperationDone(name, err == nil, elapsed)

	if err != nil {
		msg := fmt.Sprintf("%s: %v", errPrefix, err)
		r.logger.Warn("operation failed", zap.String("operation", name), zap.Duration("took", elapsed), zap.Error(err))
		r.log.AppendLog(msg, elapsed)
		r.notifier.Notify(ctx, bus.SeverityError, msg)
		var zero T
		return zero, false
	}

	msg := success(res)
	r.logger.Info("operation done", zap.String("operation", name), zap.Duration("took", elapsed))
	r.log.AppendLog(msg, elapsed)
	r.notifier.Notify(ctx, bus.SeveritySuccess, msg)
	return res, true
}

// Spin keeps overlay raised for at least the runner's minimum busy time
// around fn. If ctx ends first the overlay drops immediately. Panics in fn
// are logged and swallowed.
func (r *Runner) Spin(ctx context.Context, overlay func(bool), fn func(context.Context)) {
	start := time.Now()
	overlay(true)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("operation panicked", zap.Any("panic", p))
		}

		if rem := r.minBusy - time.Since(start); rem > 0 {
			t := time.NewTimer(rem)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		}
		overlay(false)
	}()

	fn(ctx)
}
