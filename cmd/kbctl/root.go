package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xaenox/kb-bot/internal/app"
	"github.com/xaenox/kb-bot/pkg/config"
	"go.uber.org/zap"
)

type cli struct {
	configPath string
	debug      bool

	logger *zap.Logger
	app    *app.App
	// open builds the application on first use; tests replace it.
	open func(ctx context.Context, c *cli) (*app.App, error)
}

func newCLI() *cli {
	return &cli{open: openApp}
}

func openApp(ctx context.Context, c *cli) (*app.App, error) {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.New(ctx, cfg, c.logger)
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:           "kbctl",
		Short:         "Manage kb-bot bots, knowledge bases and conversations",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.logger != nil {
				return nil
			}
			var err error
			if c.debug {
				c.logger, err = zap.NewDevelopment()
			} else {
				c.logger, err = zap.NewProduction()
			}
			return err
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to the YAML config file")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "Log at debug level in development format")

	root.AddCommand(
		c.botsCmd(),
		c.kbCmd(),
		c.linksCmd(),
		c.refreshCmd(),
		c.threadsCmd(),
		c.chatCmd(),
	)
	return root
}

// application opens the app once per process.
func (c *cli) application(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := c.open(ctx, c)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
	}
	if c.logger != nil {
		c.logger.Sync()
	}
}
