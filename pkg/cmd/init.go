package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	rollconf "github.com/rollkit/l1-committer/pkg/config"
)

// InitCmd returns the command writing a new committer.yaml into the home directory.
func InitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: fmt.Sprintf("Initialize a new %s file", rollconf.ConfigName),
		Long:  fmt.Sprintf("This command initializes a new %s file in the home directory, taking values from the given flags.", rollconf.ConfigName),
		RunE: func(cmd *cobra.Command, args []string) error {
			homePath, err := cmd.Flags().GetString(rollconf.FlagRootDir)
			if err != nil {
				return fmt.Errorf("error reading home flag: %w", err)
			}

			if homePath == "" {
				return fmt.Errorf("home path is required")
			}

			// ignore error, as we are creating a new config
			// we use load in order to parse all the flags
			cfg, _ := rollconf.Load(cmd)
			cfg.RootDir = homePath

			if _, err := os.Stat(cfg.ConfigPath()); err == nil {
				return fmt.Errorf("%s file already exists in the specified directory", rollconf.ConfigName)
			}

			if err := rollconf.EnsureRoot(homePath); err != nil {
				return err
			}

			if err := cfg.SaveAsYaml(); err != nil {
				return fmt.Errorf("error writing %s file: %w", rollconf.ConfigName, err)
			}

			cmd.Printf("Successfully initialized config file at %s\n", cfg.ConfigPath())
			return nil
		},
	}

	rollconf.AddFlags(initCmd)

	return initCmd
}
