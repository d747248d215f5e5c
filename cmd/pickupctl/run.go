package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PickupRelay/internal/broker/messages"
	"github.com/BearBump/PickupRelay/internal/services/composer"
	"github.com/BearBump/PickupRelay/internal/services/intake"
	"github.com/BearBump/PickupRelay/internal/services/matcher"
	"github.com/BearBump/PickupRelay/internal/services/notifier"
	"github.com/BearBump/PickupRelay/internal/services/pickups"
	"github.com/BearBump/PickupRelay/internal/services/registry"
	"github.com/BearBump/PickupRelay/internal/services/retention"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runFlags struct {
	payload intake.Payload
	wait    time.Duration
}

func newRunCmd(opts *rootOpts) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Broadcast one pickup request and wait for the first volunteer",
		Long: "Runs a single request in-process. After a match the command stays up until " +
			"the contact message has been deleted; interrupting deletes it right away.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.payload.Location, "location", "", "pickup location")
	fl.StringVar(&f.payload.Date, "date", intake.Today, `"Today" or YYYY-MM-DD`)
	fl.StringVar(&f.payload.TimeWindow, "time-window", "", `time window, e.g. "14:00 - 16:00"`)
	fl.StringVar(&f.payload.Remarks, "remarks", "", "free-text info shown in the broadcast")
	fl.StringVar(&f.payload.ContactNumber, "contact", "", "requester phone number")
	fl.DurationVar(&f.wait, "wait", 0, "response window (defaults to pickup.default_wait_minutes)")
	_ = cmd.MarkFlagRequired("contact")
	_ = cmd.MarkFlagRequired("time-window")
	return cmd
}

func runOnce(cmd *cobra.Command, opts *rootOpts, f *runFlags) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	s, err := cfg.Settings()
	if err != nil {
		return err
	}
	if cfg.Telegram.GroupChatID == 0 {
		return errors.New("telegram.group_chat_id is required")
	}

	clock := clockwork.NewRealClock()
	fields, wait, err := intake.NewValidator(s.Location, s.DefaultWait, s.MaxWait).Validate(f.payload, clock.Now())
	if err != nil {
		return err
	}
	if f.wait > 0 {
		wait = f.wait
	}

	gw, botUsername, err := newGateway(cfg)
	if err != nil {
		return errors.Wrap(err, "messenger gateway")
	}
	if botUsername == "" {
		botUsername = "pickup_bot"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(clock)
	m := matcher.New(gw, clock).WithSettings(s.PollTimeout, s.PollPause)
	sched := retention.New(gw, clock)
	comp := composer.New(botUsername, s.Location, s.Retention)
	n := notifier.New(gw, comp, reg, sched, cfg.Telegram.GroupChatID, s.Retention)
	svc := pickups.New(reg, m, gw, comp, n, cfg.Telegram.GroupChatID).WithClock(clock)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	g.Go(func() error {
		err := m.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	cmd.Printf("broadcasting to %d, waiting %s\n", cfg.Telegram.GroupChatID, wait)
	res, runErr := svc.RunWithResult(runCtx, fields, wait)
	cancelRun()
	_ = g.Wait()

	switch {
	case runErr != nil:
		cmd.Printf("request %s: %s\n", res.RequestID, messages.OutcomeError)
	case res.Matched:
		cmd.Printf("request %s: %s by %s\n", res.RequestID, messages.OutcomeMatched, res.Claimant.DisplayName)
	default:
		cmd.Printf("request %s: %s\n", res.RequestID, messages.OutcomeNoMatch)
	}

	drainRetention(ctx, clock, sched)
	return runErr
}

// drainRetention blocks until scheduled deletions ran or ctx ends; whatever
// is left is deleted immediately.
func drainRetention(ctx context.Context, clock clockwork.Clock, sched *retention.Scheduler) {
	for sched.Pending() > 0 {
		select {
		case <-ctx.Done():
		case <-clock.After(200 * time.Millisecond):
			continue
		}
		break
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Flush(flushCtx)
}
