package cmd

import (
	"fmt"

	"github.com/rzbill/aideploy/pkg/types"
	"github.com/spf13/cobra"
)

func newURLCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "url [SERVICE]",
		Short: "Print the URL of the deployed service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != outputText && output != outputEnv {
				return types.NewValidationError(fmt.Sprintf("unknown output %q (want text or env)", output))
			}
			service := a.cfg.Service
			if len(args) == 1 {
				service = args[0]
			}
			ep, err := a.locator(a.cloudRun(a.gcloud())).Locate(cmd.Context(), service)
			if err != nil {
				return err
			}
			printURL(a.out, output, ep.URL)
			return nil
		},
	}
	cmd.Flags().String("region", "", "Cloud Run region")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "result format: text or env (SERVICE_URL=<url>)")
	return cmd
}
