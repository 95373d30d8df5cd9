package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appLogger "github.com/biokg/backend/pkg/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the normalization cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached PubTator lookup",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := openCache(cfg)
		if c == nil {
			return errors.New("redis cache is disabled or unreachable")
		}
		defer c.Close()

		n, err := c.InvalidateNormalization(cmd.Context())
		if err != nil {
			return err
		}
		appLogger.Info("Normalization cache cleared", zap.Int("keys", n))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
