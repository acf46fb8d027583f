package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect aideploy configuration",
	}
	cmd.AddCommand(newConfigViewCmd(a))
	cmd.AddCommand(newConfigPathCmd(a))
	return cmd
}

func newConfigViewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the effective configuration as YAML",
		Long: `Print the effective configuration after merging defaults, the config file,
AIDEPLOY_* environment variables and flags. Inline registry credentials
are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.cfg.YAML()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			_, err = a.out.Write(out)
			return err
		},
	}
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintln(a.out, used)
				return
			}
			fmt.Fprintln(a.out, "no config file found; using defaults")
		},
	}
}
