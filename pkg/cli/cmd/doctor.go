package cmd

import (
	"context"
	"fmt"

	"github.com/rzbill/aideploy/pkg/builder"
	"github.com/rzbill/aideploy/pkg/cli/format"
	"github.com/rzbill/aideploy/pkg/secrets"
	"github.com/spf13/cobra"
)

// check is one preflight probe. A failing required check fails doctor.
type check struct {
	name     string
	required bool
	run      func(ctx context.Context) (string, error)
}

type checkResult struct {
	name   string
	status string
	detail string
	err    error
}

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local toolchain, credentials and configuration",
		Long: `Run preflight checks before a deploy: the configuration is valid, gcloud is
installed with an active account, the docker daemon is reachable when
building locally, and the secret store can be read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := runChecks(cmd.Context(), a.checks())

			rows := make([][]string, 0, len(results))
			var firstErr error
			for _, r := range results {
				detail := r.detail
				if r.err != nil {
					detail = r.err.Error()
					if firstErr == nil && r.status == "failed" {
						firstErr = r.err
					}
				}
				rows = append(rows, []string{r.name, format.StatusLabel(r.status), detail})
			}
			if err := NewResourceTable("CHECK", "STATUS", "DETAIL").Render(a.out, rows); err != nil {
				return err
			}
			if firstErr != nil {
				return firstErr
			}
			fmt.Fprintln(a.out, format.Success("%s ready to deploy", format.StatusSymbol(true)))
			return nil
		},
	}
}

func (a *app) checks() []check {
	gc := a.gcloud()
	strategy, _ := builder.ParseStrategy(a.cfg.Build.Strategy)

	return []check{
		{name: "config", required: true, run: func(context.Context) (string, error) {
			if err := a.cfg.Validate(); err != nil {
				return "", err
			}
			return fmt.Sprintf("project %s, service %s", a.cfg.Project, a.cfg.Service), nil
		}},
		{name: "gcloud", required: true, run: func(ctx context.Context) (string, error) {
			account, err := gc.ActiveAccount(ctx)
			if err != nil {
				return "", err
			}
			return account, nil
		}},
		{name: "docker", required: strategy == builder.StrategyLocal, run: func(ctx context.Context) (string, error) {
			if strategy != builder.StrategyLocal {
				return skipped, nil
			}
			c := &closers{}
			defer c.Close()
			cli, err := a.dockerClient(ctx, c)
			if err != nil {
				return "", err
			}
			return "api " + cli.ClientVersion(), nil
		}},
		{name: "secret store", required: true, run: func(ctx context.Context) (string, error) {
			c := &closers{}
			defer c.Close()
			st, err := a.secretStore(gc, c)
			if err != nil {
				return "", err
			}
			rec, err := st.Describe(ctx, a.cfg.Secret.Name)
			if secrets.IsNotFound(err) {
				return a.cfg.Secret.Name + " not created yet", nil
			}
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%d versions)", rec.Name, len(rec.Versions)), nil
		}},
	}
}

const skipped = "skipped"

func runChecks(ctx context.Context, checks []check) []checkResult {
	out := make([]checkResult, 0, len(checks))
	for _, c := range checks {
		detail, err := c.run(ctx)
		r := checkResult{name: c.name, detail: detail, err: err}
		switch {
		case err == nil && detail == skipped:
			r.status, r.detail = "skipped", "remote builds do not use the daemon"
		case err == nil:
			r.status = "ok"
		case c.required:
			r.status = "failed"
		default:
			r.status = "warning"
		}
		out = append(out, r)
	}
	return out
}
