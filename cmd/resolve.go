package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/subletmap/subletmap/internal/availability"
	"github.com/subletmap/subletmap/internal/markers"
	"github.com/subletmap/subletmap/internal/model"
	"github.com/subletmap/subletmap/internal/sheet"
)

var (
	resolveMonth string
	resolveCSV   string
	resolveXLSX  string
	resolveOut   string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve listings to GeoJSON markers",
	Long:  "Fetches the listings sheet (or reads a local CSV/XLSX export), resolves each listing through the geocoding cache, and writes a GeoJSON feature collection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		listings, err := loadListings(ctx, env)
		if err != nil {
			return err
		}

		if resolveMonth != "" && resolveMonth != availability.AllMonths {
			listings = availability.FilterByMonth(listings, resolveMonth)
		}
		if len(listings) == 0 {
			zap.L().Warn("no listings to resolve", zap.String("month", resolveMonth))
		}

		results, err := env.Cache.BatchResolve(ctx, listings, cfg.Geocode.BatchConcurrency)
		if err != nil {
			return err
		}

		collection := markers.Build(results)
		data, err := json.MarshalIndent(collection, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal markers")
		}

		if resolveOut == "" || resolveOut == "-" {
			cmd.Println(string(data))
			return nil
		}
		if err := os.WriteFile(resolveOut, data, 0o644); err != nil {
			return eris.Wrap(err, "write output")
		}
		zap.L().Info("wrote markers",
			zap.String("path", resolveOut),
			zap.Int("features", len(collection.Features.Features)),
			zap.Int("unresolved", len(collection.Unresolved)),
		)
		return nil
	},
}

// loadListings reads listings from the configured source, preferring local
// files over the network export when given.
func loadListings(ctx context.Context, env *appEnv) ([]model.Listing, error) {
	switch {
	case resolveCSV != "":
		f, err := os.Open(resolveCSV)
		if err != nil {
			return nil, eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck
		return sheet.ParseCSV(f)
	case resolveXLSX != "":
		return sheet.ReadXLSX(resolveXLSX)
	default:
		return env.Sheet.Fetch(ctx)
	}
}

func init() {
	resolveCmd.Flags().StringVar(&resolveMonth, "month", availability.AllMonths, "availability month filter (YYYY-MM or \"all\")")
	resolveCmd.Flags().StringVar(&resolveCSV, "csv", "", "read listings from a local CSV export instead of fetching")
	resolveCmd.Flags().StringVar(&resolveXLSX, "xlsx", "", "read listings from a local XLSX export instead of fetching")
	resolveCmd.Flags().StringVarP(&resolveOut, "out", "o", "", "output path (default stdout)")
	rootCmd.AddCommand(resolveCmd)
}
