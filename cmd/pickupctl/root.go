package main

import (
	"log/slog"
	"os"

	"github.com/BearBump/PickupRelay/config"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger/fake"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger/telegram"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
)

// newGateway is swapped in tests.
var newGateway = func(cfg *config.Config) (messenger.Gateway, string, error) {
	if cfg.Telegram.Token == "" {
		slog.Warn("telegram token not set, using in-memory gateway")
		return fake.New(), cfg.Telegram.BotUsername, nil
	}
	c, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.APIEndpoint)
	if err != nil {
		return nil, "", err
	}
	c.SetDebug(cfg.Telegram.Debug)
	return c, c.Username(), nil
}

type rootOpts struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:          "pickupctl",
		Short:        "Operate the pickup relay bot from the command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("configPath"), "path to the YAML config")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newResetCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func (o *rootOpts) load() (*config.Config, error) {
	if o.configPath == "" {
		return nil, errors.New("--config (or configPath env var) is required")
	}
	return config.LoadConfig(o.configPath)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("pickupctl %s (commit=%s)\n", Version, CommitSHA)
		},
	}
}
