package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chasingclaw/internal/infra/config"
)

// newRootCmd builds the command tree.
func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "chasingclaw",
		Short: "chasingclaw - personal AI agent with tools and scheduled jobs",
		Long: `chasingclaw runs an LLM agent that can use tools (filesystem, shell,
web search, memory, cron) and answers over HTTP, webhooks and the terminal.

Examples:
  chasingclaw serve
  chasingclaw chat -m "What's in my workspace?"
  chasingclaw cron add --every 3600 -m "Summarize my inbox"
  chasingclaw cron list --all`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to the config file")

	root.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newCronCmd(),
		newDoctorCmd(),
	)
	return root
}

// defaultConfigPath resolves CHASINGCLAW_CONFIG, then ~/.chasingclaw/config.yaml.
func defaultConfigPath() string {
	if p := os.Getenv("CHASINGCLAW_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".chasingclaw", "config.yaml")
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	return cfg, path, err
}
