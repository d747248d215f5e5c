package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newResetCmd(opts *rootOpts) *cobra.Command {
	var keepPending bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the webhook and drop the pending update backlog",
		Long: "Run this once before starting the bot, never while it is serving requests: " +
			"dropped updates may contain claims.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			gw, _, err := newGateway(cfg)
			if err != nil {
				return errors.Wrap(err, "messenger gateway")
			}
			if err := gw.Reset(cmd.Context(), !keepPending); err != nil {
				return errors.Wrap(err, "reset")
			}
			cmd.Printf("reset done (pending updates dropped: %t)\n", !keepPending)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepPending, "keep-pending", false, "only clear the webhook, keep queued updates")
	return cmd
}
