package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/dailyux/eldercare-go/assistant"
	"github.com/dailyux/eldercare-go/eldercare"
)

var (
	scenarioWait  bool
	scenarioDelay time.Duration
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario <name>",
	Short: "Run a quick-action scenario",
	Long: `Runs one of the canned quick actions in a fresh session and prints the reply.
With --wait the command stays up until the scheduled follow-up has run.

Scenarios:
  medicine_reminder  heart medication reminder, follow-up after the delay
  forgot_medicine    missed gastro medicine before lunch`,
	Args: cobra.ExactArgs(1),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var names []string
		for _, action := range assistant.QuickActions() {
			names = append(names, action.Name)
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if _, ok := assistant.LookupQuickAction(args[0]); !ok {
			return fmt.Errorf("%w: %s", assistant.ErrUnknownAction, args[0])
		}
		if scenarioDelay > 0 {
			cfg.Scheduler.FollowUpDelay = scenarioDelay.String()
		}
		a, err := newApp(ctx, cfg, logger, appOptions{Console: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		defer a.Close()

		return runScenario(ctx, a.assistant, args[0], scenarioWait, cmd.OutOrStdout())
	},
}

func init() {
	scenarioCmd.Flags().BoolVar(&scenarioWait, "wait", false, "wait for the scheduled follow-up")
	scenarioCmd.Flags().DurationVar(&scenarioDelay, "delay", 0, "follow-up delay (overrides config)")
}

// runScenario runs the quick action and, when wait is set, the scheduler
// until the follow-up reply arrives.
func runScenario(ctx context.Context, svc *assistant.Service, name string, wait bool, out io.Writer) error {
	if !svc.Available() {
		return assistant.ErrUnavailable
	}
	session := svc.NewSession()

	var followUps <-chan *eldercare.Message
	if wait {
		ch, unsubscribe := svc.Subscribe(session)
		defer unsubscribe()
		followUps = ch

		runCtx, cancel := context.WithCancel(ctx)
		runDone := make(chan error, 1)
		go func() { runDone <- svc.Run(runCtx) }()
		defer func() {
			cancel()
			<-runDone
		}()
	}

	result, err := svc.RunQuickAction(ctx, session, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "User: %s\n\n", result.Action.Prompt)
	printReply(out, result.Reply)

	if result.FollowUp == nil {
		return nil
	}
	fmt.Fprintf(out, "\nFollow-up %s scheduled for %s.\n",
		result.FollowUp.ID, result.FollowUp.ExecuteAt.Local().Format("15:04:05"))
	if !wait {
		return nil
	}

	select {
	case msg, ok := <-followUps:
		if !ok {
			return nil
		}
		fmt.Fprintf(out, "\nUser: %s\n\n", result.Action.FollowUp)
		printReply(out, msg)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
