package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eyupikiz-lgtm/QuantAup/internal/db/repository"
	"github.com/eyupikiz-lgtm/QuantAup/internal/parser"
)

var (
	importDir         string
	importSymbol      string
	importConcurrency int
	importDryRun      bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load exported CSV bars into Postgres",
	Long: `Scan a directory for SYMBOL_TIMEFRAME_YEAR.csv exports, parse every file and
insert the bars into the market_data table. Bars already stored are skipped,
so the import can be repeated safely.`,
	RunE: runImport,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		env, err := setup(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.pool.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importDir, "dir", "", "Directory to scan (default: data.csv_dir)")
	importCmd.Flags().StringVar(&importSymbol, "symbol", "", "Only import this symbol")
	importCmd.Flags().IntVar(&importConcurrency, "concurrency", 4, "Files parsed and inserted in parallel")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse files without writing to the database")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := setup(ctx, !importDryRun)
	if err != nil {
		return err
	}
	defer env.Close()

	dir := importDir
	if dir == "" {
		dir = env.cfg.Data.CSVDir
	}
	if dir == "" {
		return fmt.Errorf("no directory given: use --dir or set data.csv_dir")
	}

	files, err := parser.ScanDir(dir)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	if importSymbol != "" {
		files = filterFiles(files, importSymbol)
	}
	if len(files) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No export files found in %s\n", dir)
		return nil
	}

	var market repository.MarketDataRepository
	if !importDryRun {
		if err := env.pool.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		market = repository.NewMarketDataRepository(env.pool)
	}

	p := parser.NewParser(env.logger)
	var parsed, inserted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(importConcurrency, 1))
	for _, f := range files {
		g.Go(func() error {
			series, err := p.ParseFile(f.Path)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Path, err)
			}
			parsed.Add(int64(series.Len()))
			if market == nil {
				return nil
			}

			n, err := market.InsertBars(gctx, series)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Path, err)
			}
			inserted.Add(n)
			env.logger.Info("Imported file",
				zap.String("path", f.Path),
				zap.Int("bars", series.Len()),
				zap.Int64("inserted", n),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d files, %d bars parsed, %d bars inserted\n",
		len(files), parsed.Load(), inserted.Load())
	return nil
}

func filterFiles(files []parser.FileInfo, symbol string) []parser.FileInfo {
	symbol = strings.ToUpper(symbol)
	var out []parser.FileInfo
	for _, f := range files {
		if f.Symbol == symbol {
			out = append(out, f)
		}
	}
	return out
}
