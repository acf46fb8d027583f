package main

import (
	"os"

	"github.com/rzbill/aideploy/pkg/cli/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
