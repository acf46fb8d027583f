package cmd

import (
	"fmt"

	"github.com/rzbill/aideploy/pkg/version"
	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the aideploy version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Fprintln(a.out, version.Version)
				return
			}
			fmt.Fprintln(a.out, version.Info())
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	return cmd
}
