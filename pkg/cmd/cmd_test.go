package cmd

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rollconf "github.com/rollkit/l1-committer/pkg/config"
)

// executeCommand executes the given Cobra command with the provided args
// and captures its stdout/stderr.
func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func newRootCmd(subcommands ...*cobra.Command) *cobra.Command {
	root := &cobra.Command{Use: "committer", SilenceUsage: true}
	rollconf.AddGlobalFlags(root, "committer")
	root.AddCommand(subcommands...)
	return root
}

func TestInitCmd(t *testing.T) {
	home := t.TempDir()

	output, err := executeCommand(newRootCmd(InitCmd()), "init", "--home", home, "--committer.fragment_capacity", "1000", "--l1.mock")
	require.NoError(t, err)
	assert.Contains(t, output, "Successfully initialized config file")

	data, err := os.ReadFile(filepath.Join(home, rollconf.ConfigName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "fragment_capacity: 1000")
	assert.Contains(t, string(data), "mock: true")

	_, err = executeCommand(newRootCmd(InitCmd()), "init", "--home", home)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInitCmdThenParseConfig(t *testing.T) {
	home := t.TempDir()

	_, err := executeCommand(newRootCmd(InitCmd()), "init", "--home", home, "--l1.mock", "--storage.backend", "memory")
	require.NoError(t, err)

	cmd := &cobra.Command{Use: "start"}
	rollconf.AddGlobalFlags(cmd, "committer")
	rollconf.AddFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--home", home}))

	cfg, err := ParseConfig(cmd)
	require.NoError(t, err)
	assert.True(t, cfg.L1.Mock)
	assert.Equal(t, rollconf.StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, home, cfg.RootDir)
}

func TestParseConfigValidates(t *testing.T) {
	cmd := &cobra.Command{Use: "start"}
	rollconf.AddGlobalFlags(cmd, "committer")
	rollconf.AddFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--home", t.TempDir(), "--committer.max_fragments_per_tx", "7"}))

	_, err := ParseConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to validate config")
	assert.Contains(t, err.Error(), "committer.max_fragments_per_tx")
	assert.Contains(t, err.Error(), "l1.contract_address")
}

func TestSetupLogger(t *testing.T) {
	testCases := []rollconf.LogConfig{
		{Level: "debug", Format: "text"},
		{Level: "error", Format: "json", Trace: true},
		{Level: "not-a-level"},
	}
	for _, tc := range testCases {
		logger := SetupLogger(tc)
		require.NotNil(t, logger)
		assert.NotPanics(t, func() { logger.Debug("test message", "level", tc.Level) })
	}
}

func TestStatusCmd(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"Committing"}`))
	}))
	defer testServer.Close()

	host, port, err := net.SplitHostPort(testServer.Listener.Addr().String())
	require.NoError(t, err)

	output, err := executeCommand(newRootCmd(StatusCmd()), "status", "--home", t.TempDir(), "--rpc.address", host, "--rpc.port", port)
	require.NoError(t, err)
	assert.Contains(t, output, "Committing")
}

func TestStatusCmdServerError(t *testing.T) {
	testServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer testServer.Close()

	host, port, err := net.SplitHostPort(testServer.Listener.Addr().String())
	require.NoError(t, err)

	_, err = executeCommand(newRootCmd(StatusCmd()), "status", "--home", t.TempDir(), "--rpc.address", host, "--rpc.port", port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestVersionCmd_Success(t *testing.T) {
	Version = "v0.1.0-test"
	GitSHA = "abcdef123test"

	output, err := executeCommand(VersionCmd)

	require.NoError(t, err)
	assert.Contains(t, output, "v0.1.0-test")
	assert.Contains(t, output, "abcdef123test")
}

func TestVersionCmd_MissingVersion(t *testing.T) {
	Version = ""
	GitSHA = "abcdef123test"

	_, err := executeCommand(VersionCmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "version not set")
}

func TestVersionCmd_MissingGitSHA(t *testing.T) {
	GitSHA = ""
	Version = "v0.1.0-test"

	_, err := executeCommand(VersionCmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "git SHA not set")
}
