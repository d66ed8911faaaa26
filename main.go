// Command spendbot is an expense-tracking assistant for Telegram and HTTP
// clients. It drives an LLM through tool calls against a remote MCP
// tool-provider that owns wallets, expenses and categories.
//
//	spendbot serve                 # run the configured channels (default)
//	spendbot tools                 # print the merged tool catalog
//	spendbot ask --user 42 "кофе 200"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"spendbot/pkg/monitor"

	"github.com/spf13/cobra"
)

var (
	configPath string
	systemPath string
)

func main() {
	monitor.SetupSlog("info")

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "spendbot",
		Short:        "Expense-tracking assistant backed by an MCP tool-provider",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to the business config")
	rootCmd.PersistentFlags().StringVar(&systemPath, "system", "system.json", "Path to the engine config")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildAskCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the tool-provider and run every configured channel",
		Long: `Start the assistant.

The server will:
1. Load config.json and system.json
2. Connect to the MCP tool-provider and build the tool registry
3. Start the configured channels (telegram, web)
4. Reload the instructions file on change

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func buildToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the merged tool registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func buildAskCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Run a single turn and print the answer",
		Example: `  spendbot ask --user 42 "потратил 500 на такси"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return runAsk(cmd.Context(), cmd.OutOrStdout(), userID, name, args[0])
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id sent in the identity header")
	cmd.Flags().StringVar(&name, "name", "", "Display name sent in the name header")
	return cmd
}
