package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionhost/bastion-agent/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load and validate agent.yaml, servers.yaml, and permissions.yaml without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentCfg, serversCfg, permsCfg, err := config.All(flagConfigDir)
		if err != nil {
			return err
		}

		fmt.Printf("config directory: %s\n", flagConfigDir)
		fmt.Printf("model: %s  max_tokens: %d  max_tool_iterations: %d  command_timeout: %ds  approval_mode: %s\n",
			agentCfg.Model, agentCfg.MaxTokens, agentCfg.MaxToolIterations, agentCfg.CommandTimeout, agentCfg.ApprovalMode)
		fmt.Printf("socket: %s\n", agentCfg.SocketPath)
		fmt.Printf("servers: %d\n", len(serversCfg.Servers))

		inventory := config.NewInventory(serversCfg, permsCfg)
		for _, name := range inventory.ServerNames() {
			info, _ := inventory.GetServer(name)
			fmt.Printf("  - %s (role=%s ssh=%t) allowed_commands=%d\n",
				name, info.Definition.Role, info.Definition.SSH, len(info.Permissions.AllowedCommands))
		}

		fmt.Printf("roles: %d\n", len(inventory.Roles()))
		fmt.Printf("approval_required_patterns: %d\n", len(inventory.ApprovalPatterns()))
		fmt.Println("configuration is valid")
		return nil
	},
}
