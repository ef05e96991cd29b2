package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xrplbridge/config"
	"xrplbridge/store"
	"xrplbridge/types"
)

var rootCmd = &cobra.Command{
	Use:   "bridgectl",
	Short: "Inspect bridge requests of the XRPL - XRP EVM sidechain bridge",
	Long: `bridgectl reads bridge requests straight from the request store configured
for the bridge service (config.yml, .env and the environment).

Examples:
  bridgectl status 6f1c2a0e-5b7d-4e0a-9d59-3c0f7e0b9a11
  bridgectl list --status failed
  bridgectl list --source rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe --limit 5`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file, defaults to CONFIG_PATH or config.yml")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// openStore loads the service config and opens its request store read side
func openStore(cmd *cobra.Command) (store.Store, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("can't load config: %w", err)
	}
	return store.Open(context.Background(), cfg, false)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func coloredStatus(status types.Status) string {
	switch status {
	case types.StatusCompleted:
		return color.GreenString(strings.ToUpper(string(status)))
	case types.StatusFailed:
		return color.RedString(strings.ToUpper(string(status)))
	case types.StatusPending:
		return color.YellowString(strings.ToUpper(string(status)))
	default:
		return strings.ToUpper(string(status))
	}
}
