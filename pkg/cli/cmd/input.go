package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// credentialInput selects where a credential value is read from. Values
// are never accepted as flag arguments so they stay out of shell history.
type credentialInput struct {
	file  string
	stdin bool
}

func (c *credentialInput) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.file, "value-file", "", "read the credential value from a file")
	cmd.Flags().BoolVar(&c.stdin, "value-stdin", false, "read the credential value from standard input")
}

// readCredential returns the value from, in order: --value-file,
// --value-stdin, the operator's own envVar, or a no-echo prompt when stdin
// is a terminal. An empty string means no source had a value.
func (a *app) readCredential(in credentialInput, envVar string) (string, error) {
	var value string
	switch {
	case in.file != "":
		b, err := os.ReadFile(in.file)
		if err != nil {
			return "", types.NewValidationError(fmt.Sprintf("failed to read credential file: %v", err))
		}
		value = string(b)
	case in.stdin:
		b, err := io.ReadAll(a.in)
		if err != nil {
			return "", types.NewError(types.KindEnvironment, "read stdin", err)
		}
		value = string(b)
	case os.Getenv(envVar) != "":
		value = os.Getenv(envVar)
		a.logger.Debug("Using credential from the local environment", log.Str("env_var", envVar))
	default:
		f, ok := a.in.(*os.File)
		if !ok || !term.IsTerminal(int(f.Fd())) {
			return "", nil
		}
		fmt.Fprintf(a.errOut, "Enter value for %s: ", envVar)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", types.NewError(types.KindEnvironment, "read prompt", err)
		}
		value = string(b)
	}

	value = strings.TrimSpace(value)
	log.Mask(value)
	return value, nil
}
