package cmd

import (
	"fmt"

	"github.com/rzbill/aideploy/pkg/builder"
	"github.com/rzbill/aideploy/pkg/cli/format"
	"github.com/spf13/cobra"
)

func newBuildCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the service image",
		Long: `Build the service image with the configured strategy.

The remote strategy submits the source to Cloud Build, which also pushes the
tag. The local strategy builds with the local docker daemon; follow it with
'aideploy push'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			plan, err := a.plan()
			if err != nil {
				return err
			}

			c := &closers{}
			defer c.Close()
			b, _, err := a.builder(cmd.Context(), a.gcloud(), c)
			if err != nil {
				return err
			}

			req := plan.Build
			req.Image = plan.Image
			res, err := b.Build(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintln(a.out, format.Label("Image", res.Image.String()))
			if res.ImageID != "" {
				fmt.Fprintln(a.out, format.Label("ID", res.ImageID))
			}
			if res.Strategy == builder.StrategyRemote {
				fmt.Fprintln(a.out, format.Dim("pushed by Cloud Build"))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("image", "", "image reference to build")
	flags.String("strategy", "", "build strategy: remote or local")
	flags.String("source", "", "source directory to build")
	flags.String("dockerfile", "", "Dockerfile path relative to the source directory")
	flags.String("platform", "", "target platform for local builds")
	flags.Bool("no-cache", false, "build without the layer cache")
	return cmd
}

func newPushCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push a locally built image and print its digest-pinned reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := a.cfg.ImageRef()
			if err != nil {
				return err
			}

			c := &closers{}
			defer c.Close()
			cli, err := a.dockerClient(cmd.Context(), c)
			if err != nil {
				return err
			}
			pub, err := a.publisher(a.gcloud(), cli)
			if err != nil {
				return err
			}

			res, err := pub.Push(cmd.Context(), image)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, format.Label("Pushed", res.Image.Pinned()))
			fmt.Fprintln(a.out, format.Dim("%d layers pushed, %d reused, %d attempt(s)", res.LayersPushed, res.LayersReused, res.Attempts))
			return nil
		},
	}
	cmd.Flags().String("image", "", "image reference to push")
	return cmd
}
