package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/hupe1980/eve"
	"github.com/hupe1980/eve/core"
	"github.com/spf13/cobra"
)

var (
	flagInboxCalls         int
	flagInboxNotifications int
	flagInboxWork          time.Duration
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Drive synchronous calls between two agents",
	Long: `Start a host with a caller and a callee agent. A task on the shared run
queue makes a series of synchronous calls from the caller to the callee and
waits for each reply, while notifications keep arriving in the caller's inbox.

Replies are counted as bypassed: they do not hold the caller's inbox latch.
The inbox section of the config file (proceed_timeout) applies to both agents.

Examples:
  eve inbox --calls 50 --work 2ms
  eve inbox -c eve.yaml --notifications 10`,
	Args: cobra.NoArgs,
	RunE: runInbox,
}

func init() {
	inboxCmd.Flags().IntVar(&flagInboxCalls, "calls", 20, "Synchronous calls made by the caller")
	inboxCmd.Flags().IntVar(&flagInboxNotifications, "notifications", 5, "Notifications queued behind the calls")
	inboxCmd.Flags().DurationVar(&flagInboxWork, "work", time.Millisecond, "Time the callee spends per call")
}

func runInbox(cmd *cobra.Command, args []string) error {
	if flagInboxCalls <= 0 || flagInboxNotifications < 0 {
		return fmt.Errorf("calls must be positive and notifications not negative")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr).WithComponent("inbox").WithContext("calls", flagInboxCalls)
	stop := logger.StartTimer("inbox run")

	host := eve.New(cfg.HostOptions(logger))
	caller, err := host.NewAgent("caller")
	if err != nil {
		return err
	}
	callee, err := host.NewAgent("callee")
	if err != nil {
		return err
	}

	start := time.Now()
	callsDone := make(chan int, 1)
	notified := make(chan struct{}, flagInboxNotifications)

	host.RunQueue().Execute(func() {
		sum := 0
		for i := 0; i < flagInboxCalls; i++ {
			if i < flagInboxNotifications {
				caller.Receive(core.Message{Kind: core.KindRequest, Method: "notify"}, func() bool {
					notified <- struct{}{}
					return true
				})
			}
			reply := make(chan int, 1)
			caller.Send(core.Message{Kind: core.KindRequest, Method: "square", Sync: true, Payload: i}, func(req core.Message) bool {
				return callee.Receive(req, func() bool {
					time.Sleep(flagInboxWork)
					n := req.Payload.(int)
					resp := core.Message{Kind: core.KindResponse, ID: req.ID, Payload: n * n}
					return caller.Receive(resp, func() bool {
						reply <- resp.Payload.(int)
						return true
					})
				})
			})
			sum += <-reply
		}
		callsDone <- sum
	})
	for i := flagInboxCalls; i < flagInboxNotifications; i++ {
		caller.Receive(core.Message{Kind: core.KindRequest, Method: "notify"}, func() bool {
			notified <- struct{}{}
			return true
		})
	}

	timeout := time.Duration(flagInboxCalls)*flagInboxWork + 10*time.Second
	var sum int
	select {
	case sum = <-callsDone:
	case <-time.After(timeout):
		host.Shutdown(time.Second)
		return fmt.Errorf("calls did not complete within %s", timeout)
	}
	for i := 0; i < flagInboxNotifications; i++ {
		<-notified
	}
	elapsed := time.Since(start)

	// counters are final once the inbox loops have exited
	if !host.Shutdown(5 * time.Second) {
		logger.Warn("host did not terminate in time")
	}
	stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "calls:          %d x %s\n", flagInboxCalls, flagInboxWork)
	fmt.Fprintf(out, "sum:            %d\n", sum)
	fmt.Fprintf(out, "elapsed:        %s\n", elapsed.Round(time.Millisecond))
	for _, a := range []*eve.Agent{caller, callee} {
		s := a.InboxStats()
		fmt.Fprintf(out, "%-15s processed %d, bypassed %d, forced %d\n", a.ID()+":", s.Processed, s.Bypassed, s.ForcedReleases)
	}
	return nil
}
