package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/pacer/pkg/bus"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <channel> <json>",
		Short: "Publish a JSON object to a channel",
		Example: `  pacer publish threat-raw '{"host":"srv-01","severity":"HIGH","pipeline_id":"pipe-manual"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, payload := args[0], args[1]

			env, err := bus.ParseEnvelope([]byte(payload))
			if err != nil {
				return fmt.Errorf("parse message: %w", err)
			}

			if err := ctx.setup(cmd.ErrOrStderr()); err != nil {
				return err
			}
			b, err := ctx.openBus(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			if !b.Publish(cmd.Context(), channel, env) {
				return fmt.Errorf("publish to %s failed on %s", channel, backendLabel(b))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published to %s via %s\n", channel, backendLabel(b))
			return nil
		},
	}
}
