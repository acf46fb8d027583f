package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rzbill/aideploy/internal/config"
	"github.com/rzbill/aideploy/pkg/cli/format"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/runner"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/rzbill/aideploy/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries what every command needs once flags and config are resolved.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string
	verbose   bool

	v      *viper.Viper
	cfg    *config.Config
	logger log.Logger
	runner runner.Runner

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// newRunner builds the external command runner; tests substitute a fake
	newRunner func(log.Logger) runner.Runner
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:     in,
		out:    out,
		errOut: errOut,
		newRunner: func(logger log.Logger) runner.Runner {
			return runner.NewExecRunner(logger)
		},
	}
}

// flagKeys maps command-line flags onto configuration keys, so a flag
// overrides the file and AIDEPLOY_* environment.
var flagKeys = map[string]string{
	"project":          "project",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"region":           "region",
	"service":          "service",
	"image":            "image",
	"strategy":         "build.strategy",
	"source":           "build.source_dir",
	"dockerfile":       "build.dockerfile",
	"platform":         "build.platform",
	"no-cache":         "build.no_cache",
	"secret-name":      "secret.name",
	"env-var":          "secret.env_var",
	"mode":             "secret.mode",
	"backend":          "secret.backend",
	"memory":           "deploy.memory",
	"cpu":              "deploy.cpu",
	"min-instances":    "deploy.min_instances",
	"max-instances":    "deploy.max_instances",
	"port":             "deploy.port",
	"network":          "deploy.network",
	"env":              "deploy.env",
	"retries":          "pipeline.retries",
	"parallel-secrets": "pipeline.parallel_secrets",
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aideploy",
		Short: "Build, push and deploy the AI content service to Cloud Run",
		Long: `aideploy takes the AI content service source tree through build, registry
push, secret provisioning, deploy and endpoint lookup on Google Cloud Run.

The OpenAI API key is provisioned into Secret Manager and injected by
reference, so it never lands in source control or shell history.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return types.NewValidationError(err.Error())
	})

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default searches ./aideploy.yaml, $HOME/.aideploy, /etc/aideploy)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (text, json)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose output")
	flags.StringP("project", "p", "", "Google Cloud project id")

	cmd.AddCommand(newDeployCmd(a))
	cmd.AddCommand(newBuildCmd(a))
	cmd.AddCommand(newPushCmd(a))
	cmd.AddCommand(newSecretCmd(a))
	cmd.AddCommand(newURLCmd(a))
	cmd.AddCommand(newDoctorCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd(a))

	return cmd
}

// load resolves configuration for the command being run and builds the
// logger and runner from it.
func (a *app) load(cmd *cobra.Command) error {
	a.v = config.New()
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return types.NewError(types.KindUnknown, "bind flags", bindErr)
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := log.ApplyConfig(&cfg.Log, a.errOut)
	if err != nil {
		return types.NewValidationError(err.Error())
	}
	log.SetDefaultLogger(logger)

	a.cfg = cfg
	a.logger = logger
	a.runner = a.newRunner(logger)
	if used := a.v.ConfigFileUsed(); used != "" {
		logger.Debug("Using config file", log.Str("path", used))
	}
	return nil
}

// run executes the command tree and returns the process exit code.
func run(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		format.RenderError(a.errOut, err)
		return types.KindOf(err).ExitCode()
	}
	return 0
}

// Execute runs the CLI and returns the exit code for main.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code := run(ctx, newApp(os.Stdin, os.Stdout, os.Stderr), os.Args[1:])
	if ctx.Err() != nil && code != 0 {
		fmt.Fprintln(os.Stderr, format.Warning("interrupted"))
	}
	return code
}
