package commands

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/eve/runqueue"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagBenchTasks      int
	flagBenchSleep      time.Duration
	flagBenchSubmitters int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run sleeping tasks on the adaptive run queue",
	Long: `Submit many tasks that each sleep for a fixed duration and report the
wall-clock time needed to finish them.

Sleeping workers are reclassified as waiting by the pool scanner, so the
elapsed time shows how far the pool expands beyond its running target.

Examples:
  eve bench --tasks 1000 --sleep 10ms
  eve bench --tasks 5000 --submitters 8 --target 4`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&flagBenchTasks, "tasks", 1000, "Number of tasks to submit")
	benchCmd.Flags().DurationVar(&flagBenchSleep, "sleep", 10*time.Millisecond, "Sleep duration per task")
	benchCmd.Flags().IntVar(&flagBenchSubmitters, "submitters", 4, "Number of concurrent submitting goroutines")
}

func runBench(cmd *cobra.Command, args []string) error {
	if flagBenchTasks <= 0 || flagBenchSubmitters <= 0 {
		return fmt.Errorf("tasks and submitters must be positive")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr).WithComponent("bench").WithContext("tasks", flagBenchTasks)
	defer logger.StartTimer("bench")()

	q := runqueue.New(cfg.RunQueueOptions(), func(o *runqueue.Options) { o.Logger = logger })

	var done sync.WaitGroup
	done.Add(flagBenchTasks)
	start := time.Now()

	g, ctx := errgroup.WithContext(cmd.Context())
	per := flagBenchTasks / flagBenchSubmitters
	for i := 0; i < flagBenchSubmitters; i++ {
		n := per
		if i == flagBenchSubmitters-1 {
			n = flagBenchTasks - per*(flagBenchSubmitters-1)
		}
		g.Go(func() error {
			for j := 0; j < n; j++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				q.Execute(func() {
					defer done.Done()
					time.Sleep(flagBenchSleep)
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		q.ShutdownNow()
		return fmt.Errorf("submission aborted: %w", err)
	}
	done.Wait()
	elapsed := time.Since(start)

	stats := q.Stats()
	q.Shutdown()
	if !q.AwaitTermination(5 * time.Second) {
		logger.Warn("run queue did not terminate in time")
	}

	serial := time.Duration(flagBenchTasks) * flagBenchSleep
	capped := serial / time.Duration(stats.Target)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tasks:          %d x %s\n", flagBenchTasks, flagBenchSleep)
	fmt.Fprintf(out, "target:         %d\n", stats.Target)
	fmt.Fprintf(out, "elapsed:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "serial:         %s\n", serial)
	fmt.Fprintf(out, "target-bound:   %s\n", capped)
	fmt.Fprintf(out, "workers spawned %d, executed %d, failed %d\n", stats.Spawned, stats.Executed, stats.Failed)
	return nil
}
