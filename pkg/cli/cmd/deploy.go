package cmd

import (
	"fmt"
	"io"

	"github.com/rzbill/aideploy/pkg/builder"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/pipeline"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/rzbill/aideploy/pkg/version"
	"github.com/spf13/cobra"
)

const (
	outputText = "text"
	outputEnv  = "env"
)

func newDeployCmd(a *app) *cobra.Command {
	var (
		cred          credentialInput
		skipBuild     bool
		skipSecret    bool
		dryRun        bool
		secretVersion string
		output        string
	)

	cmd := &cobra.Command{
		Use:   "deploy [PROJECT_ID]",
		Short: "Build, push, provision the API key and deploy the service",
		Long: `Run the full deploy cycle: build the image, push it, store the API key as a
new secret version, deploy a Cloud Run revision pinned to the pushed digest,
and print the service URL.

PROJECT_ID defaults to the configured project (biso-event).

The API key is read from --value-file, --value-stdin, the local OPENAI_API_KEY
environment variable, or an interactive prompt, in that order.`,
		Example: `  # deploy to the default project
  OPENAI_API_KEY=sk-... aideploy deploy

  # redeploy code without touching the secret
  aideploy deploy my-project --skip-secret

  # show what would happen
  aideploy deploy --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.cfg.Project = args[0]
			}
			if output != outputText && output != outputEnv {
				return types.NewValidationError(fmt.Sprintf("unknown output %q (want text or env)", output))
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			plan, err := a.plan()
			if err != nil {
				return err
			}
			plan.SkipBuild = skipBuild
			plan.SkipSecret = skipSecret
			plan.SecretVersion = secretVersion
			plan.DryRun = dryRun
			if plan.CredentialMode == types.CredentialModeLiteral || !skipSecret {
				if plan.Credential, err = a.readCredential(cred, plan.EnvVar); err != nil {
					return err
				}
			}

			// keep stdout to the single result line for --output env
			progress := a.out
			if output == outputEnv {
				progress = a.errOut
			}

			p, closer, err := a.pipeline(cmd.Context(), dryRun, progress)
			if err != nil {
				return err
			}
			defer closer.Close()

			res, err := p.Run(cmd.Context(), plan)
			if res != nil && !dryRun {
				if rerr := renderSteps(progress, res.Steps); rerr != nil {
					a.logger.Debug("Failed to render summary", log.Err(rerr))
				}
			}
			if err != nil {
				return err
			}
			if dryRun {
				return nil
			}
			printURL(a.out, output, res.Endpoint.URL)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("service", "", "Cloud Run service name")
	flags.String("region", "", "Cloud Run region")
	flags.String("image", "", "image reference to build and push (default gcr.io/<project>/<service>:latest)")
	flags.String("strategy", "", "build strategy: remote (Cloud Build) or local (docker daemon)")
	flags.String("source", "", "source directory to build")
	flags.String("dockerfile", "", "Dockerfile path relative to the source directory")
	flags.String("platform", "", "target platform for local builds")
	flags.Bool("no-cache", false, "build without the layer cache")
	flags.String("secret-name", "", "secret holding the API key")
	flags.String("env-var", "", "environment variable the service reads the key from")
	flags.String("mode", "", "credential injection: secret or literal (discouraged)")
	flags.String("backend", "", "secret backend: gcloud or local")
	flags.String("memory", "", "memory limit, e.g. 512Mi")
	flags.String("cpu", "", "cpu limit, e.g. 1")
	flags.Int("min-instances", 0, "minimum instances")
	flags.Int("max-instances", 0, "maximum instances (0 leaves the platform default)")
	flags.Int("port", 0, "container port")
	flags.String("network", "", "invoker policy: public or restricted")
	flags.StringToString("env", nil, "extra plain environment variables KEY=VALUE")
	flags.Int("retries", 0, "retries per step after a transient failure")
	flags.Bool("parallel-secrets", false, "provision the secret while the image builds")

	flags.BoolVar(&skipBuild, "skip-build", false, "deploy the existing image tag without building")
	flags.BoolVar(&skipSecret, "skip-secret", false, "deploy an existing secret version without provisioning")
	flags.StringVar(&secretVersion, "secret-version", "", "secret version to deploy with --skip-secret (default latest)")
	flags.BoolVar(&dryRun, "dry-run", false, "print the plan without making any external call")
	flags.StringVarP(&output, "output", "o", outputText, "result format: text or env (SERVICE_URL=<url>)")
	cred.addFlags(cmd)

	return cmd
}

// plan builds a pipeline plan from the resolved configuration.
func (a *app) plan() (pipeline.Plan, error) {
	cfg := a.cfg
	image, err := cfg.ImageRef()
	if err != nil {
		return pipeline.Plan{}, err
	}
	mode, err := types.ParseCredentialMode(cfg.Secret.Mode)
	if err != nil {
		return pipeline.Plan{}, err
	}
	network, err := types.ParseNetworkPolicy(cfg.Deploy.Network)
	if err != nil {
		return pipeline.Plan{}, err
	}

	labels := map[string]string{
		"managed-by":       "aideploy",
		"aideploy-version": version.LabelValue(),
	}
	for k, v := range cfg.Deploy.Labels {
		labels[k] = v
	}

	return pipeline.Plan{
		Project: cfg.Project,
		Region:  cfg.Region,
		Service: cfg.Service,
		Image:   image,
		Build: builder.BuildRequest{
			SourceDir:  cfg.Build.SourceDir,
			Dockerfile: cfg.Build.Dockerfile,
			Platform:   cfg.Build.Platform,
			BuildArgs:  cfg.Build.Args,
			NoCache:    cfg.Build.NoCache,
			Timeout:    cfg.Build.Timeout,
		},
		Resources:       cfg.Resources(),
		Network:         network,
		Env:             cfg.Deploy.Env,
		Labels:          labels,
		CredentialMode:  mode,
		EnvVar:          cfg.Secret.EnvVar,
		SecretName:      cfg.Secret.Name,
		ParallelSecrets: cfg.Pipeline.ParallelSecrets,
		Retries:         cfg.Pipeline.Retries,
	}, nil
}

func printURL(w io.Writer, output, url string) {
	if output == outputEnv {
		fmt.Fprintf(w, "SERVICE_URL=%s\n", url)
		return
	}
	fmt.Fprintln(w, url)
}
