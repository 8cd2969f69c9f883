package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/tokenpanel/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type opKind int

const (
	opBalance opKind = iota
	opSupply
	opPaused
	opEvents
	opKinds
)

var opNames = [opKinds]string{"balanceOf", "totalSupply", "paused", "transferEvents"}

func main() {
	var (
		rpcURL      = flag.String("rpc", "http://127.0.0.1:8545", "node JSON-RPC URL")
		contractHex = flag.String("contract", "", "token contract address")
		dur         = flag.Duration("dur", 30*time.Second, "test duration")
		warmup      = flag.Duration("warmup", 3*time.Second, "warmup duration (not counted)")
		avgRPS      = flag.Int("avg-rps", 100, "avg RPS")
		peakRPS     = flag.Int("peak-rps", 500, "peak RPS (during ramp)")
		ramp        = flag.Duration("ramp", 10*time.Second, "ramp-up duration to peak")
		eventsEvery = flag.Int("events-every", 20, "one transferEvents query per N calls, 0 disables")
		workers     = flag.Int("workers", 32, "concurrent workers")
	)
	flag.Parse()

	if !common.IsHexAddress(*contractHex) {
		fmt.Fprintln(os.Stderr, "-contract: token contract address required")
		os.Exit(2)
	}

	ctx := context.Background()

	gw, err := ledger.Dial(ctx, *rpcURL, common.HexToAddress(*contractHex))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer gw.Close()

	accounts, err := gw.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		fmt.Fprintf(os.Stderr, "no node accounts to query (err=%v)\n", err)
		os.Exit(1)
	}

	t := &tester{gw: gw, accounts: accounts, eventsEvery: *eventsEvery}

	fmt.Println("starting warmup:", *warmup)
	t.runPhase(ctx, *workers, *avgRPS, *avgRPS, 0, *warmup, false)

	fmt.Println("starting measured test:", *dur)
	res := t.runPhase(ctx, *workers, *avgRPS, *peakRPS, *ramp, *dur, true)

	printReport(res)
}

type tester struct {
	gw          ledger.Gateway
	accounts    []common.Address
	eventsEvery int
}

type results struct {
	ops        [opKinds]atomic.Uint64
	errOps     atomic.Uint64
	mu         sync.Mutex
	latencies  []time.Duration
	startedAt  time.Time
	finishedAt time.Time
}

func (t *tester) runPhase(
	ctx context.Context,
	workers int,
	avgRPS int,
	peakRPS int,
	ramp time.Duration,
	dur time.Duration,
	collect bool,
) *results {
	ctx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()

	lim := rate.NewLimiter(rate.Limit(avgRPS), avgRPS)
	jobs := make(chan opKind, 256)
	res := &results{startedAt: time.Now()}

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
			for op := range jobs {
				t0 := time.Now()
				err := t.do(ctx, op, r)
				dt := time.Since(t0)

				res.ops[op].Add(1)
				if err != nil {
					res.errOps.Add(1)
					continue
				}
				if collect {
					res.mu.Lock()
					res.latencies = append(res.latencies, dt)
					res.mu.Unlock()
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)

		rampStart := time.Now()
		for n := 1; ; n++ {
			if err := lim.Wait(ctx); err != nil {
				return nil
			}

			if ramp > 0 {
				if el := time.Since(rampStart); el < ramp {
					cur := float64(avgRPS) + float64(peakRPS-avgRPS)*(float64(el)/float64(ramp))
					lim.SetLimit(rate.Limit(cur))
				} else {
					lim.SetLimit(rate.Limit(peakRPS))
				}
			}

			op := opKind(n % int(opEvents))
			if t.eventsEvery > 0 && n%t.eventsEvery == 0 {
				op = opEvents
			}
			select {
			case jobs <- op:
			case <-ctx.Done():
				return nil
			}
		}
	})

	_ = g.Wait()
	res.finishedAt = time.Now()
	return res
}

func (t *tester) do(ctx context.Context, op opKind, r *rand.Rand) error {
	switch op {
	case opBalance:
		_, err := t.gw.BalanceOf(ctx, t.accounts[r.Intn(len(t.accounts))])
		return err
	case opSupply:
		_, err := t.gw.TotalSupply(ctx)
		return err
	case opPaused:
		_, err := t.gw.Paused(ctx)
		return err
	case opEvents:
		_, err := t.gw.TransferEvents(ctx, 0, nil)
		return err
	default:
		return nil
	}
}

func printReport(res *results) {
	d := res.finishedAt.Sub(res.startedAt)

	var total uint64
	for i := range res.ops {
		total += res.ops[i].Load()
	}

	fmt.Printf("\n== REPORT ==\n")
	fmt.Printf("duration: %s\n", d)
	fmt.Printf("ops: total=%d errors=%d\n", total, res.errOps.Load())
	for i, name := range opNames {
		fmt.Printf("  %-15s %d\n", name, res.ops[i].Load())
	}
	if d > 0 {
		fmt.Printf("throughput: %.2f ops/s\n", float64(total)/d.Seconds())
	}
	if len(res.latencies) == 0 {
		fmt.Println("no latency samples")
		return
	}
	slices.Sort(res.latencies)
	p := func(q float64) time.Duration {
		return res.latencies[int(q*float64(len(res.latencies)-1))]
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		p(0.50), p(0.95), p(0.99), res.latencies[len(res.latencies)-1],
	)
}
