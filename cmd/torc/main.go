package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/torc-hpc/torc/pkg/client"
	"github.com/torc-hpc/torc/pkg/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "torc",
	Short: "Torc - Workflow orchestration for HPC job pipelines",
	Long: `Torc orchestrates dependency-driven job workflows across HPC
compute nodes. A single server owns the workflow state; compute nodes
claim ready jobs over HTTP, run them, and report results back.

State lives in an embedded database, so a deployment is one binary
and one file.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Torc version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (overrides the default search path)")
	rootCmd.PersistentFlags().String("url", "", "Server URL (default from config, http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().String("username", "", "Basic auth username")
	rootCmd.PersistentFlags().String("password", "", "Basic auth password")

	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Torc version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// loadConfig resolves the layered configuration with any flags the
// user set on this invocation layered on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	l := &config.Loader{Paths: config.DefaultPaths(), File: file}
	l.BindFlag("client.url", cmd.Flags().Lookup("url"))
	l.BindFlag("client.username", cmd.Flags().Lookup("username"))
	l.BindFlag("client.password", cmd.Flags().Lookup("password"))
	return l.Load()
}

// apiClient builds the HTTP client every non-server subcommand talks
// through.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Client.Username != "" {
		return client.NewWithBasicAuth(cfg.Client.URL, cfg.Client.Username, cfg.Client.Password), nil
	}
	return client.New(cfg.Client.URL), nil
}

// printJSON renders an API response for scripting.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %v", err)
	}
	fmt.Println(string(data))
	return nil
}
