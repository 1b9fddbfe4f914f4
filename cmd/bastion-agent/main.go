package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bastionhost/bastion-agent/internal/log"
)

var (
	version = "0.1.0"

	flagConfigDir string
	flagLogLevel  string
	flagSocket    string
	flagVerbose   bool
)

func init() {
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bastion-agent",
	Short:   "Gated infrastructure agent for an LLM-driven server fleet",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := flagLogLevel
		if flagVerbose {
			level = "debug"
		}
		return log.Init(level)
	},
}

func init() {
	defaultConfigDir := os.Getenv("BASTION_AGENT_CONFIG")
	if defaultConfigDir == "" {
		defaultConfigDir = "./config"
	}

	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", defaultConfigDir, "directory containing agent.yaml, servers.yaml, permissions.yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", os.Getenv("BASTION_AGENT_LOG_LEVEL"), "operational log level: \"\", info, debug")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "override the daemon socket path from agent.yaml")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "shorthand for --log-level=debug")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(sessionsCmd)
}
