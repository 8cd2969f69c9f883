package guard

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/pvzzle/tokenpanel/internal/bus"
	"github.com/pvzzle/tokenpanel/internal/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	sev  bus.Severity
	text string
}

type recorder struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recorder) Notify(_ context.Context, sev bus.Severity, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{sev: sev, text: text})
}

func (r *recorder) all() []notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notice(nil), r.notices...)
}

type fakeLedger struct {
	mu sync.Mutex

	listening    bool
	listenErr    error
	chainID      int64
	chainErr     error
	paused       bool
	pausedErr    error
	switchErr    error
	switchCalls  []int64
	pausedCalls  int
	listensCalls int
}

func (f *fakeLedger) IsListening(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listensCalls++
	return f.listening, f.listenErr
}

func (f *fakeLedger) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return big.NewInt(f.chainID), nil
}

func (f *fakeLedger) SwitchChain(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchCalls = append(f.switchCalls, id)
	if f.switchErr == nil {
		f.chainID = id
	}
	return f.switchErr
}

func (f *fakeLedger) Paused(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pausedCalls++
	return f.paused, f.pausedErr
}

func healthy() *fakeLedger { return &fakeLedger{listening: true, chainID: 31337} }

type call struct {
	recipient string
	amount    string
}

// op mimics a guarded operation capturing its arguments.
func guardedTransfer(p *Pipeline, calls *[]call) func(ctx context.Context, recipient, amount string) (string, bool) {
	return func(ctx context.Context, recipient, amount string) (string, bool) {
		res, ran, _ := Do(ctx, p, func(context.Context) (string, error) {
			*calls = append(*calls, call{recipient: recipient, amount: amount})
			return "done", nil
		})
		return res, ran
	}
}

func TestNetworkChecks_UnsupportedChainsBlock(t *testing.T) {
	for _, id := range []int64{0, 2, 42, 56, 137, 10, 999999} {
		l := healthy()
		l.chainID = id
		rec := &recorder{}
		gates := NewGates(l, rec, nil, nil, nil)

		var calls []call
		_, ran := guardedTransfer(gates.Network, &calls)(context.Background(), "0xabc", "1")

		assert.False(t, ran, "chain %d", id)
		assert.Empty(t, calls, "chain %d", id)
		assert.Equal(t, []int64{network.DefaultChainID}, l.switchCalls, "chain %d", id)
	}
}

func TestNetworkChecks_SupportedChainsRunOnce(t *testing.T) {
	for _, id := range []int64{1, 3, 4, 5, 11155111, 31337, 1337} {
		l := healthy()
		l.chainID = id
		rec := &recorder{}
		gates := NewGates(l, rec, nil, nil, nil)

		var calls []call
		res, ran := guardedTransfer(gates.Network, &calls)(context.Background(), "0xabc", "1.5")

		require.True(t, ran, "chain %d", id)
		assert.Equal(t, "done", res)
		assert.Equal(t, []call{{recipient: "0xabc", amount: "1.5"}}, calls)
		assert.Empty(t, rec.all())
		assert.Empty(t, l.switchCalls)
	}
}

func TestNetworkChecks_NoConnection(t *testing.T) {
	for _, l := range []*fakeLedger{
		{listening: false, chainID: 1},
		{listening: true, listenErr: errors.New("dial tcp: refused"), chainID: 1},
	} {
		rec := &recorder{}
		gates := NewGates(l, rec, nil, nil, nil)

		var calls []call
		_, ran := guardedTransfer(gates.Network, &calls)(context.Background(), "0xabc", "1")

		assert.False(t, ran)
		assert.Equal(t, []notice{{sev: bus.SeverityError, text: "No connection to blockchain network."}}, rec.all())
		assert.Empty(t, l.switchCalls)
	}
}

func TestNetworkChecks_SwitchOutcomeNotices(t *testing.T) {
	l := healthy()
	l.chainID = 56
	rec := &recorder{}
	NewGates(l, rec, nil, nil, nil).Network.Allow(context.Background())

	got := rec.all()
	require.Len(t, got, 2)
	assert.Contains(t, got[0].text, "Unsupported network: Unknown Network (ID: 56)")
	assert.Equal(t, bus.SeverityInfo, got[1].sev)

	l = healthy()
	l.chainID = 56
	l.switchErr = errors.New("method not found")
	rec = &recorder{}
	NewGates(l, rec, nil, nil, nil).Network.Allow(context.Background())

	got = rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, notice{sev: bus.SeverityError, text: "Failed to switch network. Please do it manually."}, got[1])
}

func TestNetworkChecks_SwitchReportsNewNetwork(t *testing.T) {
	l := healthy()
	l.chainID = 56
	var got []network.Identity
	gates := NewGates(l, &recorder{}, func(id network.Identity) { got = append(got, id) }, nil, nil)

	assert.False(t, gates.Network.Allow(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, network.DefaultChainID, got[0].ID)
	assert.True(t, got[0].Supported())

	// the node is on a supported chain now, so the next attempt proceeds
	assert.True(t, gates.Network.Allow(context.Background()))
	assert.Len(t, got, 1)

	l = healthy()
	l.chainID = 56
	l.switchErr = errors.New("method not found")
	got = nil
	NewGates(l, &recorder{}, func(id network.Identity) { got = append(got, id) }, nil, nil).Network.Allow(context.Background())
	assert.Empty(t, got, "failed switch reports nothing")
}

func TestFull_PausedBlocks(t *testing.T) {
	l := healthy()
	l.paused = true
	rec := &recorder{}
	gates := NewGates(l, rec, nil, nil, nil)

	var calls []call
	_, ran := guardedTransfer(gates.Full, &calls)(context.Background(), "0xabc", "50")

	assert.False(t, ran)
	assert.Empty(t, calls)
	assert.Equal(t, []notice{{sev: bus.SeverityError, text: "Contract is paused"}}, rec.all())

	// Pause state does not gate the network-only pipeline.
	_, ran = guardedTransfer(gates.Network, &calls)(context.Background(), "0xabc", "50")
	assert.True(t, ran)
}

func TestFull_PauseCheckedOnlyAfterNetwork(t *testing.T) {
	l := healthy()
	l.chainID = 42
	l.paused = true
	rec := &recorder{}
	gates := NewGates(l, rec, nil, nil, nil)

	assert.Equal(t, []string{CheckConnectivity, CheckNetwork, CheckNotPaused}, gates.Full.Names())
	assert.Equal(t, []string{CheckConnectivity, CheckNetwork}, gates.Network.Names())

	v := gates.Full.Evaluate(context.Background())
	assert.False(t, v.Proceed)
	assert.Equal(t, CheckNetwork, v.Check)
	assert.Zero(t, l.pausedCalls)
}

func TestNotPaused_ErrorBlocks(t *testing.T) {
	l := healthy()
	l.pausedErr = errors.New("execution reverted")

	v := NotPaused(l).Check(context.Background())
	assert.False(t, v.Proceed)
	assert.Contains(t, v.Reason, "execution reverted")
}

func TestDo_PropagatesOperationError(t *testing.T) {
	p := NewPipeline(&recorder{}, nil, nil, Connectivity(healthy()))
	boom := errors.New("boom")

	_, ran, err := Do(context.Background(), p, func(context.Context) (int, error) { return 0, boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
}
