package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/subletmap/subletmap/internal/model"
	"github.com/subletmap/subletmap/pkg/geocode"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the geocoding cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := json.MarshalIndent(env.Cache.StatsSnapshot(), "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [key]",
	Short: "Mark a cache entry (or all entries) stale so the next lookup re-resolves",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 0 {
			env.Cache.InvalidateAll(ctx)
			zap.L().Info("invalidated all cache entries")
			return nil
		}
		env.Cache.Invalidate(ctx, args[0])
		zap.L().Info("invalidated cache entry", zap.String("key", args[0]))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [key]",
	Short: "Remove a cache entry (or all entries) from memory and the store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 0 {
			env.Cache.ClearAll(ctx)
			zap.L().Info("cleared cache")
			return nil
		}
		env.Cache.Clear(ctx, args[0])
		zap.L().Info("cleared cache entry", zap.String("key", args[0]))
		return nil
	},
}

var cacheKeyCmd = &cobra.Command{
	Use:   "key <neighbourhood> <city> <country>",
	Short: "Print the cache key for a location triple",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		l := model.Listing{Neighbourhood: args[0], City: args[1], Country: args[2]}
		cmd.Println(geocode.BuildKey(l))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheInvalidateCmd, cacheClearCmd, cacheKeyCmd)
	rootCmd.AddCommand(cacheCmd)
}
