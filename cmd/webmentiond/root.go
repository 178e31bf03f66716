package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webmention-receiver/internal/config"
	"github.com/JakeFAU/webmention-receiver/internal/server"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// service is what the commands need from the wired application.
type service interface {
	Run(ctx context.Context) error
	Process(ctx context.Context, req webmention.Request) (webmention.TaskRecord, error)
	Close(ctx context.Context) error
}

type builder func(ctx context.Context, cfg *config.Config) (service, error)

func buildService(ctx context.Context, cfg *config.Config) (service, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return app, nil
}

// newRootCmd creates the root command. build is injected so tests can swap
// the application for a fake.
func newRootCmd(build builder) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "webmentiond",
		Short:         "Receives and processes webmentions for a blog.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return &cfg, nil
	}

	cmd.AddCommand(newServeCmd(load, build))
	cmd.AddCommand(newProcessCmd(load, build))
	return cmd
}
