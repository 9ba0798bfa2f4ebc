package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/app"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/optimizer"
)

var (
	swSymbol       string
	swTimeframe    string
	swStart        string
	swEnd          string
	swShortRange   string
	swLongRange    string
	swStopRange    string
	swProfitRange  string
	swWindowMargin int
	swProfitMargin float64
	swCommission   float64
	swObjective    string
	swWorkers      int
	swTop          int
	swFormat       string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Search the parameter grid for the best settings",
	Long: `Evaluate every combination of short window, long window, stop loss and
take profit in the given ranges and report the best scoring ones.

Ranges are written min:max:step and are inclusive. Unset ranges come from the
configuration file. Press Ctrl-C to stop early and print the partial result.

Example:
  quantaup sweep --symbol THYAO --timeframe 1h --short 5:50:5 --long 20:200:10 \
    --stop-loss 0.01:0.05:0.01 --take-profit 0.02:0.10:0.01 --objective sharpe`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&swSymbol, "symbol", "", "Symbol to sweep (required)")
	sweepCmd.Flags().StringVar(&swTimeframe, "timeframe", string(domain.Timeframe1h), "Bar timeframe")
	sweepCmd.Flags().StringVar(&swStart, "start", "", "First day to include (YYYY-MM-DD)")
	sweepCmd.Flags().StringVar(&swEnd, "end", "", "Last day to include (YYYY-MM-DD)")
	sweepCmd.Flags().StringVar(&swShortRange, "short", "", "Short window range min:max:step")
	sweepCmd.Flags().StringVar(&swLongRange, "long", "", "Long window range min:max:step")
	sweepCmd.Flags().StringVar(&swStopRange, "stop-loss", "", "Stop-loss range min:max:step")
	sweepCmd.Flags().StringVar(&swProfitRange, "take-profit", "", "Take-profit range min:max:step")
	sweepCmd.Flags().IntVar(&swWindowMargin, "window-margin", -1, "Minimum gap between short and long windows")
	sweepCmd.Flags().Float64Var(&swProfitMargin, "profit-margin", -1, "Minimum gap between take profit and stop loss")
	sweepCmd.Flags().Float64Var(&swCommission, "commission", -1, "Commission fraction (default from config)")
	sweepCmd.Flags().StringVar(&swObjective, "objective", "", "Objective: linearity, total_return, sharpe")
	sweepCmd.Flags().IntVar(&swWorkers, "workers", 0, "Worker count (default from config)")
	sweepCmd.Flags().IntVar(&swTop, "top", 0, "Number of top combinations to report")
	sweepCmd.Flags().StringVar(&swFormat, "format", "table", "Output format: table, json")
	sweepCmd.MarkFlagRequired("symbol")

	rootCmd.AddCommand(sweepCmd)
}

// sweepRanges overlays the range flags onto base.
func sweepRanges(base domain.SweepRanges) (domain.SweepRanges, error) {
	r := base
	var err error
	if swShortRange != "" {
		if r.ShortWindow, err = parseIntRange(swShortRange); err != nil {
			return r, err
		}
	}
	if swLongRange != "" {
		if r.LongWindow, err = parseIntRange(swLongRange); err != nil {
			return r, err
		}
	}
	if swStopRange != "" {
		if r.StopLoss, err = parseFloatRange(swStopRange); err != nil {
			return r, err
		}
	}
	if swProfitRange != "" {
		if r.TakeProfit, err = parseFloatRange(swProfitRange); err != nil {
			return r, err
		}
	}
	if swWindowMargin >= 0 {
		r.WindowMargin = swWindowMargin
	}
	if swProfitMargin >= 0 {
		r.ProfitMargin = swProfitMargin
	}
	return r, optimizer.ValidateRanges(r)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if swFormat != "table" && swFormat != "json" {
		return fmt.Errorf("%w: format must be table or json", domain.ErrInvalidInput)
	}
	tf := domain.Timeframe(swTimeframe)
	if !tf.IsValid() {
		return fmt.Errorf("%w: unknown timeframe %q", domain.ErrInvalidInput, swTimeframe)
	}
	start, err := parseDay(swStart)
	if err != nil {
		return err
	}
	end, err := parseDay(swEnd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg := env.cfg

	ranges, err := sweepRanges(cfg.Optimizer.Ranges)
	if err != nil {
		return err
	}
	if swObjective != "" {
		cfg.Optimizer.Objective = swObjective
	}
	if swWorkers > 0 {
		cfg.Optimizer.Workers = swWorkers
	}
	if swTop > 0 {
		cfg.Optimizer.TopN = swTop
	}
	commission := cfg.Engine.Commission
	if swCommission >= 0 {
		commission = swCommission
	}

	symbol := strings.ToUpper(swSymbol)
	series, err := env.data.Fetch(ctx, symbol, tf, start, end)
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", symbol, tf, err)
	}

	engine := app.NewEngine(cfg, env.logger)
	opt, err := app.NewOptimizer(cfg, engine, nil, env.logger)
	if err != nil {
		return err
	}

	env.logger.Info("Starting sweep",
		zap.String("symbol", symbol),
		zap.String("timeframe", tf.String()),
		zap.Int("bars", series.Len()),
		zap.String("short", formatIntRange(ranges.ShortWindow)),
		zap.String("long", formatIntRange(ranges.LongWindow)),
		zap.String("stop_loss", formatFloatRange(ranges.StopLoss)),
		zap.String("take_profit", formatFloatRange(ranges.TakeProfit)),
		zap.Int("workers", opt.Workers()),
	)

	res, err := opt.Run(ctx, optimizer.Request{
		Series:     series,
		Ranges:     ranges,
		Commission: commission,
		Progress: func(p domain.Progress) {
			fields := []zap.Field{zap.Int("completed", p.Completed), zap.Int("total", p.Total)}
			if p.HasBest {
				fields = append(fields, zap.Float64("best_score", p.BestScore))
			}
			env.logger.Info("Sweep progress", fields...)
		},
	})
	if err != nil && !(res != nil && errors.Is(err, context.Canceled)) {
		return err
	}
	if err != nil {
		env.logger.Warn("Sweep interrupted", zap.Int("evaluated", res.Evaluated))
	}

	out := cmd.OutOrStdout()
	if swFormat == "json" {
		return writeJSON(out, res)
	}
	fmt.Fprintf(out, "%s %s, %d bars\n", symbol, tf, series.Len())
	writeSweep(out, res)
	return nil
}
