package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rollkit/l1-committer/block"
	rollconf "github.com/rollkit/l1-committer/pkg/config"
)

const statusRequestTimeout = 10 * time.Second

// StatusCmd returns the command querying the status of a running committer.
func StatusCmd() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Get the commitment status of a running committer",
		Long:  "This command queries the status endpoint of the committer configured in the home directory and prints Idle or Committing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rollconf.Load(cmd)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}

			rpcAddress := cfg.RPC.ListenAddress()
			if cfg.RPC.Address == "" {
				return fmt.Errorf("RPC address not found in committer configuration")
			}

			httpClient := http.Client{
				Transport: http.DefaultTransport,
				Timeout:   statusRequestTimeout,
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, fmt.Sprintf("http://%s/status", rpcAddress), nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("error querying committer status: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("committer returned %s", resp.Status)
			}

			var report block.StatusReport
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				return fmt.Errorf("error decoding status response: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), report.Status)
			return nil
		},
	}

	rollconf.AddFlags(statusCmd)

	return statusCmd
}
