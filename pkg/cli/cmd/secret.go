package cmd

import (
	"fmt"

	"github.com/rzbill/aideploy/pkg/cli/format"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/spf13/cobra"
)

func newSecretCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the API key secret",
		Long: `Manage the secret that holds the service's API key.

Every set appends a new version; prior versions stay accessible for audit
and rollback.`,
	}
	cmd.PersistentFlags().String("backend", "", "secret backend: gcloud or local")

	cmd.AddCommand(newSecretSetCmd(a))
	cmd.AddCommand(newSecretVersionsCmd(a))
	cmd.AddCommand(newSecretAccessCmd(a))
	return cmd
}

func (a *app) secretName(args []string) (string, error) {
	name := a.cfg.Secret.Name
	if len(args) > 0 {
		name = args[0]
	}
	return name, types.ValidateSecretName(name)
}

func newSecretSetCmd(a *app) *cobra.Command {
	var cred credentialInput
	cmd := &cobra.Command{
		Use:   "set [NAME]",
		Short: "Store a value as the latest version of the secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.secretName(args)
			if err != nil {
				return err
			}
			value, err := a.readCredential(cred, a.cfg.Secret.EnvVar)
			if err != nil {
				return err
			}

			c := &closers{}
			defer c.Close()
			prov, err := a.provisioner(a.gcloud(), c)
			if err != nil {
				return err
			}
			v, err := prov.Ensure(cmd.Context(), name, value)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, format.Success("Stored %s", v.Ref().String()))
			return nil
		},
	}
	cred.addFlags(cmd)
	return cmd
}

func newSecretVersionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "versions [NAME]",
		Short: "List versions of the secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.secretName(args)
			if err != nil {
				return err
			}
			c := &closers{}
			defer c.Close()
			st, err := a.secretStore(a.gcloud(), c)
			if err != nil {
				return err
			}
			versions, err := st.Versions(cmd.Context(), name)
			if err != nil {
				return err
			}
			return renderVersions(a.out, versions)
		},
	}
}

func newSecretAccessCmd(a *app) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "access [NAME] [VERSION]",
		Short: "Read one version of the secret",
		Long: `Read one version of the secret. VERSION defaults to latest.

The value is only printed with --reveal; otherwise its size is shown.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.secretName(args)
			if err != nil {
				return err
			}
			ref := types.NewSecretRef(name)
			if len(args) > 1 {
				if ref, err = types.ParseSecretRef(name + ":" + args[1]); err != nil {
					return err
				}
			}

			c := &closers{}
			defer c.Close()
			st, err := a.secretStore(a.gcloud(), c)
			if err != nil {
				return err
			}
			payload, err := st.Access(cmd.Context(), ref.Name, ref.Version)
			if err != nil {
				return err
			}
			if reveal {
				fmt.Fprintln(a.out, string(payload))
				return nil
			}
			fmt.Fprintf(a.out, "%s: %d bytes %s\n", ref.String(), len(payload), format.Dim("(use --reveal to print)"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the secret value")
	return cmd
}
