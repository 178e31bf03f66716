package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webmention-receiver/internal/config"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

var errRejected = errors.New("webmention rejected")

func newProcessCmd(load func() (*config.Config, error), build builder) *cobra.Command {
	var req webmention.Request
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one webmention synchronously and print the outcome",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if req.Source == "" || req.Target == "" {
				return errors.New("--source and --target are required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			svc, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, svc.Close(cmd.Context()))
			}()

			record, err := svc.Process(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("process webmention: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(record); err != nil {
				return fmt.Errorf("write outcome: %w", err)
			}
			if record.State == webmention.TaskRejected {
				return fmt.Errorf("%w: %s", errRejected, record.Detail)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Source, "source", "", "source URL that mentions the target")
	cmd.Flags().StringVar(&req.Target, "target", "", "target URL on this site")
	cmd.Flags().StringVar(&req.Callback, "callback", "", "optional callback URL for the status report")
	return cmd
}
