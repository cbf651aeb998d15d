package main

import (
	"github.com/spf13/cobra"

	"github.com/vnykmshr/pacer/internal/threat"
	"github.com/vnykmshr/pacer/pkg/common/validation"
)

// Run modes.
const (
	modeSingle     = "single"
	modeContinuous = "continuous"
	modeDemo       = "demo"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var modeFlag string
	var sourceFlag string

	ctx := newCommandContext(&configFlag)

	rootCmd := &cobra.Command{
		Use:   "pacer",
		Short: "Incident-response pipeline over a channel message bus",
		Long: `pacer moves threat events through a three-stage pipeline:
a monitor detects, an analyzer adds business context, and an
orchestrator executes the remediation. Stages communicate only
through named channels on the configured transport.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateOneOf("cli", "mode", modeFlag, modeSingle, modeContinuous, modeDemo); err != nil {
				return err
			}
			if err := validation.ValidateOneOf("cli", "source", sourceFlag, threat.Sources...); err != nil {
				return err
			}
			if cmd.Flags().Changed("source") {
				ctx.config.Coordinator.MonitorSource = sourceFlag
			}

			switch modeFlag {
			case modeContinuous:
				return runContinuous(cmd, ctx)
			case modeDemo:
				return runDemo(cmd, ctx)
			default:
				return runSingle(cmd, ctx, sourceFlag)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.Flags().StringVarP(&modeFlag, "mode", "m", modeSingle, "Run mode: single, continuous or demo")
	rootCmd.Flags().StringVarP(&sourceFlag, "source", "s", threat.SourceHorizon3, "Threat source for single mode: horizon3, bright_data or test")

	rootCmd.AddCommand(newPublishCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
