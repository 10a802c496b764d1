// Command auction drives one run of the sealed second-price auction
// protocol (spec.md §6: "a CLI or test harness that builds the n parties
// ... wires them to a shared transport.Network"). Grounded on the teacher's
// main.go (flag parsing, utils.SetupLogger, a goroutine-per-node fan-out
// collecting results), rewritten around a cobra command per SPEC_FULL's
// domain-stack choice in place of bare flag.Bool/fmt.Scan.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/config"
	"sealed-auction-mpc/errs"
	"sealed-auction-mpc/field"
	"sealed-auction-mpc/party"
	"sealed-auction-mpc/transport"
	"sealed-auction-mpc/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errs.ErrBudgetExhausted) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "auction",
		Short: "Run the sealed second-price auction protocol over a simulated network",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		bidFlags   []string
		seed       uint64
		silent     bool
		omitParty  int
		omitKind   string
		omitProb   float64
		omitTypes  []string
		delayKind  string
		delayFixed time.Duration
		delayLo    time.Duration
		delayHi    time.Duration
		delayMean  time.Duration
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one auction round and print each party's plaintext output",
		RunE: func(cmd *cobra.Command, args []string) error {
			if silent {
				zerolog.SetGlobalLevel(zerolog.Disabled)
			} else {
				utils.SetupLogger()
			}

			bids, err := parseBids(bidFlags)
			if err != nil {
				return err
			}

			cfg := config.RunConfig{
				Bids:     bids,
				Seed:     seed,
				Delay:    delaySpec(delayKind, delayFixed, delayLo, delayHi, delayMean, seed),
				Omission: omissionSpec(omitKind, omitParty, omitProb, omitTypes),
				Timeout:  timeout,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runAuction(cfg)
		},
	}

	cmd.Flags().StringArrayVar(&bidFlags, "bid", nil, "party=bid, repeated once per party (e.g. --bid 1=5)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "PRNG seed; 0 draws from crypto/rand")
	cmd.Flags().BoolVar(&silent, "silent", false, "suppress protocol-layer logging")
	cmd.Flags().IntVar(&omitParty, "omit-party", 0, "party id to apply the omission policy to; 0 disables it")
	cmd.Flags().StringVar(&omitKind, "omit-kind", "none", "none|dropall|dropprob|droptypes")
	cmd.Flags().Float64Var(&omitProb, "omit-prob", 0, "per-message drop probability for --omit-kind=dropprob")
	cmd.Flags().StringArrayVar(&omitTypes, "omit-type", nil, "msg_type to drop for --omit-kind=droptypes, repeatable")
	cmd.Flags().StringVar(&delayKind, "delay-kind", "fixed", "fixed|uniform|exponential")
	cmd.Flags().DurationVar(&delayFixed, "delay", time.Millisecond, "delay for --delay-kind=fixed")
	cmd.Flags().DurationVar(&delayLo, "delay-lo", time.Millisecond, "low bound for --delay-kind=uniform")
	cmd.Flags().DurationVar(&delayHi, "delay-hi", 10*time.Millisecond, "high bound for --delay-kind=uniform")
	cmd.Flags().DurationVar(&delayMean, "delay-mean", 5*time.Millisecond, "mean for --delay-kind=exponential")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "wall-clock abort deadline")

	return cmd
}

func parseBids(flags []string) (map[int]int64, error) {
	bids := make(map[int]int64, len(flags))
	for _, f := range flags {
		partyStr, bid, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("--bid %q: want party=bid", f)
		}
		p, err := strconv.Atoi(partyStr)
		if err != nil {
			return nil, fmt.Errorf("--bid %q: bad party id: %w", f, err)
		}
		b, err := strconv.ParseInt(bid, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--bid %q: bad bid: %w", f, err)
		}
		bids[p] = b
	}
	return bids, nil
}

func delaySpec(kind string, fixed, lo, hi, mean time.Duration, seed uint64) config.DelaySpec {
	switch kind {
	case "uniform":
		return config.DelaySpec{Kind: config.DelayUniform, Lo: lo, Hi: hi}
	case "exponential":
		return config.DelaySpec{Kind: config.DelayExponential, Mean: mean}
	default:
		return config.DelaySpec{Kind: config.DelayFixed, Fixed: fixed}
	}
}

func omissionSpec(kind string, omitParty int, prob float64, types []string) config.OmissionSpec {
	switch kind {
	case "dropall":
		return config.OmissionSpec{Kind: config.OmissionDropAll, Party: omitParty}
	case "dropprob":
		return config.OmissionSpec{Kind: config.OmissionDropProb, Party: omitParty, Prob: prob}
	case "droptypes":
		return config.OmissionSpec{Kind: config.OmissionDropTypes, Party: omitParty, Types: types}
	default:
		return config.OmissionSpec{Kind: config.OmissionNone}
	}
}

// runAuction wires the n parties to a shared transport.Network per cfg and
// waits for every party's plaintext output (spec.md §6). Fans its wait out
// across the n parties with errgroup: each wait is bounded by cfg.Timeout on
// its own, and once all waits have ended the first error, if any, is
// returned (SPEC_FULL §3: errgroup replaces a hand-rolled
// sync.WaitGroup/error channel for exactly this fan-out/fan-in shape).
func runAuction(cfg config.RunConfig) error {
	sampler := cfg.Sampler()
	tagger := func(m party.Message) string { return m.String() }
	net := transport.NewNetwork[party.Message](cfg.DelayModel(), cfg.OmissionPolicy(), tagger)

	metrics := party.NewMetrics()
	net.OnSend(metrics.RecordSend)

	bcn := beacon.New(config.N-config.F, sampler)

	nodes := make([]*party.Node, 0, config.N)
	for p := 1; p <= config.N; p++ {
		node := party.NewNode(p, config.N, config.F, cfg.Bids[p], bcn, sampler, net, zerolog.InfoLevel)
		net.Register(p, node.Inbox())
		nodes = append(nodes, node)
	}

	start := time.Now()
	for _, node := range nodes {
		node.Start()
	}
	defer func() {
		for _, node := range nodes {
			node.Stop()
		}
	}()

	outputs := make([]field.Element, len(nodes))
	var eg errgroup.Group
	for i, node := range nodes {
		eg.Go(func() error {
			select {
			case res := <-node.Result():
				outputs[i] = res.Output
				return nil
			case <-time.After(cfg.Timeout):
				return errs.ErrBudgetExhausted
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Println("RESULTS:")
	for i, node := range nodes {
		fmt.Printf("  party %d: %s\n", node.ID, outputs[i].String())
	}

	total, byType := metrics.Snapshot()
	_, delivered := net.Stats()
	fmt.Printf("METRICS: messages_sent=%d messages_delivered=%d beacon_invocations=%d gates=%d elapsed=%s\n",
		total, delivered, bcn.Invocations(), nodes[0].Service.GateCount(), elapsed)
	fmt.Printf("  sent_by_type: %v\n", byType)
	return nil
}
