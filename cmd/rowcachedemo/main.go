// SPDX-License-Identifier: GPL-2.0-or-later

// Command rowcachedemo is a runnable example over package rowcache: it
// opens a connection, creates and saves a widget, demonstrates handle
// dedup, and exercises a cross-connection concurrency check.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arnegray/rowcache/internal/rdb"
	"github.com/arnegray/rowcache/rowcache"
)

func main() {
	root := &cobra.Command{
		Use:   "rowcachedemo",
		Short: "Exercises the rowcache persistence core end to end",
	}
	root.AddCommand(runDemoCommand())
	root.AddCommand(runConcurrencyCheckCommand())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("rowcachedemo failed")
		os.Exit(1)
	}
}

func openDemoConnection(ctx context.Context, cfg config) (*rowcache.Connection, error) {
	conn, err := rowcache.Open(ctx, cfg.DatabasePath, rdb.Options{
		BusyTimeout:  cfg.BusyTimeout,
		StatementTTL: cfg.StatementTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	if err := conn.ExecuteSQL(ctx, widgetDDL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return conn, nil
}

func runDemoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Create, save, and fetch back a widget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			ctx := cmd.Context()
			conn, err := openDemoConnection(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			h, err := rowcache.New[*widget](conn, newWidget)
			if err != nil {
				return err
			}
			defer h.Release()

			w, err := h.Entity(ctx)
			if err != nil {
				return err
			}
			w.Name = "bolt"
			w.Qty = 100
			h.MarkDirty()

			id, err := h.Save(ctx)
			if err != nil {
				return fmt.Errorf("save: %w", err)
			}
			log.Info().Int64("id", id).Msg("widget saved")

			h2, err := rowcache.Fetch[*widget](conn, newWidget, id)
			if err != nil {
				return err
			}
			defer h2.Release()

			log.Info().Bool("same_object", h.Equal(h2)).Msg("handle dedup check")

			loaded, err := h2.Entity(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("widget %d: name=%q qty=%d\n", id, loaded.Name, loaded.Qty)
			return nil
		},
	}
}
