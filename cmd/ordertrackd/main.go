// ordertrackd pushes order status changes to subscribed browser clients
// over WebSocket and Server-Sent Events.
//
// Usage:
//
//	ordertrackd serve --config configs/ordertrackd.yaml
//	ordertrackd token <subscriberId> --config configs/ordertrackd.yaml
//	ordertrackd version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/order-tracker/internal/config"
)

var (
	configPath string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:           "ordertrackd",
	Short:         "Order status notification server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/ordertrackd.yaml", "path to config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config is read")

	rootCmd.AddCommand(serveCmd, tokenCmd, versionCmd)
}

// loadConfig loads dotenv files, then the YAML config with defaults applied.
func loadConfig() (*config.ServerConfig, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	return config.LoadAndValidate(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
