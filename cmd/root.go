package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/subletmap/subletmap/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "subletmap",
	Short: "Geocoding and availability backend for the sublet map",
	Long:  "Fetches the listings spreadsheet, resolves listings to coordinates through a tiered geocoding cache, and serves month-filtered GeoJSON markers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
