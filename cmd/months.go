package main

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/subletmap/subletmap/internal/availability"
	"github.com/subletmap/subletmap/internal/dates"
	"github.com/subletmap/subletmap/internal/model"
	"github.com/subletmap/subletmap/internal/sheet"
)

var monthsCSV string

var monthsCmd = &cobra.Command{
	Use:   "months",
	Short: "List the distinct availability months in the sheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var (
			listings []model.Listing
			err      error
		)
		if monthsCSV != "" {
			f, ferr := os.Open(monthsCSV)
			if ferr != nil {
				return ferr
			}
			defer f.Close() //nolint:errcheck
			listings, err = sheet.ParseCSV(f)
		} else {
			// Months only needs the sheet, not the geocoding stack.
			client := sheet.NewClient(sheet.Options{
				URL:        cfg.Sheet.URL,
				Timeout:    time.Duration(cfg.Sheet.TimeoutSecs) * time.Second,
				MaxRetries: cfg.Sheet.MaxRetries,
			})
			listings, err = client.Fetch(ctx)
		}
		if err != nil {
			return err
		}

		for _, key := range availability.Months(listings) {
			label := ""
			if m, err := strconv.Atoi(key[len(key)-2:]); err == nil {
				label = dates.MonthName(m)
			}
			cmd.Printf("%s\t%s\n", key, label)
		}
		return nil
	},
}

func init() {
	monthsCmd.Flags().StringVar(&monthsCSV, "csv", "", "read listings from a local CSV export instead of fetching")
	rootCmd.AddCommand(monthsCmd)
}
