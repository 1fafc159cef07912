package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	rollcmd "github.com/rollkit/l1-committer/pkg/cmd"
	rollconf "github.com/rollkit/l1-committer/pkg/config"
)

// RootCmd is the root command of the committer
var RootCmd = &cobra.Command{
	Use:   rollconf.DefaultAppName,
	Short: "Commits finalized L2 blocks and their state to the settlement chain.",
	Long: `
The committer watches an L2 node for finalized blocks, commits one block per commit interval to the
state contract on L1 and posts the block payload as blob data, tracking every submission until it is included.
If the --home flag is not specified, the committer will create a folder "~/.committer" where it will store its config and data.`,
}

func init() {
	rollconf.AddGlobalFlags(RootCmd, rollconf.DefaultAppName)
	rollconf.AddFlags(rollcmd.StartCmd)
}

func main() {
	RootCmd.AddCommand(
		rollcmd.StartCmd,
		rollcmd.InitCmd(),
		rollcmd.StatusCmd(),
		rollcmd.VersionCmd,
	)

	if err := RootCmd.Execute(); err != nil {
		// Print to stderr and exit with error
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
