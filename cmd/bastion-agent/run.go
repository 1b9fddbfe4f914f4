package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/bastionhost/bastion-agent/internal/conversation"
	"github.com/bastionhost/bastion-agent/internal/log"
	"github.com/bastionhost/bastion-agent/internal/security"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive session on the controlling terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAPIKey(); err != nil {
			return err
		}

		prompter := &security.TerminalPrompter{In: os.Stdin, Out: os.Stdout, Logger: log.Logger()}
		a, err := buildApp(flagConfigDir, log.Logger(), prompter)
		if err != nil {
			return err
		}
		defer a.Close()

		loop := conversation.New(a.LLMClient, a.Registry, a.SystemPrompt, a.AgentCfg, a.Logger, "interactive")
		return loop.Run(context.Background(), os.Stdin, os.Stdout)
	},
}
