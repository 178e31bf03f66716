package main

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/webmention-receiver/internal/config"
)

func newServeCmd(load func() (*config.Config, error), build builder) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webmention endpoint and run the worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			svc, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return svc.Run(cmd.Context())
		},
	}
}
