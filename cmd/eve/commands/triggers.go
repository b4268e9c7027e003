package commands

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/eve/runqueue"
	"github.com/hupe1980/eve/timeline"
	"github.com/spf13/cobra"
)

var (
	flagTriggerCount  int
	flagTriggerSpread time.Duration
)

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Schedule random triggers and report their firing",
	Long: `Register triggers with random due times on the scheduling clock, wait
for all of them to fire and report ordering inversions and lateness.

Examples:
  eve triggers --count 200 --spread 2s`,
	Args: cobra.NoArgs,
	RunE: runTriggers,
}

func init() {
	triggersCmd.Flags().IntVar(&flagTriggerCount, "count", 100, "Number of triggers")
	triggersCmd.Flags().DurationVar(&flagTriggerSpread, "spread", time.Second, "Due times are spread uniformly over this window")
}

type firing struct {
	id    string
	due   time.Time
	fired time.Time
}

func runTriggers(cmd *cobra.Command, args []string) error {
	if flagTriggerCount <= 0 || flagTriggerSpread <= 0 {
		return fmt.Errorf("count and spread must be positive")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr).WithComponent("triggers")

	q := runqueue.New(cfg.RunQueueOptions(), func(o *runqueue.Options) { o.Logger = logger })
	defer q.ShutdownNow()
	clk := timeline.New(q, func(o *timeline.Options) { o.Logger = logger })

	var (
		mu      sync.Mutex
		firings []firing
		wg      sync.WaitGroup
	)
	wg.Add(flagTriggerCount)
	base := clk.Now()
	for i := 0; i < flagTriggerCount; i++ {
		id := fmt.Sprintf("trigger-%d", i)
		due := base.Add(rand.N(flagTriggerSpread))
		clk.RequestTrigger(id, due, func() {
			defer wg.Done()
			mu.Lock()
			firings = append(firings, firing{id: id, due: due, fired: clk.Now()})
			mu.Unlock()
		})
	}

	finished := make(chan struct{})
	go func() { wg.Wait(); close(finished) }()
	select {
	case <-finished:
	case <-time.After(flagTriggerSpread + 5*time.Second):
		return fmt.Errorf("only %d of %d triggers fired", clk.Fired(), flagTriggerCount)
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}

	mu.Lock()
	defer mu.Unlock()
	var (
		inversions int
		early      int
		maxLate    time.Duration
		totalLate  time.Duration
	)
	for i, f := range firings {
		late := f.fired.Sub(f.due)
		if late < 0 {
			early++
		}
		totalLate += late
		maxLate = max(maxLate, late)
		if i > 0 && f.due.Before(firings[i-1].due) {
			inversions++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "triggers:     %d over %s\n", len(firings), flagTriggerSpread)
	fmt.Fprintf(out, "inversions:   %d\n", inversions)
	fmt.Fprintf(out, "early:        %d\n", early)
	fmt.Fprintf(out, "max lateness: %s\n", maxLate.Round(time.Microsecond))
	fmt.Fprintf(out, "avg lateness: %s\n", (totalLate / time.Duration(len(firings))).Round(time.Microsecond))
	return nil
}
