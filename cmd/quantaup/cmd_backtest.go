package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/app"
	"github.com/eyupikiz-lgtm/QuantAup/internal/backtest"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

var (
	btSymbol     string
	btTimeframe  string
	btStart      string
	btEnd        string
	btShort      int
	btLong       int
	btStopLoss   float64
	btTakeProfit float64
	btCommission float64
	btFormat     string
	btTrades     bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a single MA crossover backtest",
	Long: `Run one backtest of the moving-average crossover strategy and print its
performance metrics.

Example:
  quantaup backtest --symbol THYAO --timeframe 1h --short 10 --long 30 \
    --stop-loss 0.02 --take-profit 0.05`,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&btSymbol, "symbol", "", "Symbol to backtest (required)")
	backtestCmd.Flags().StringVar(&btTimeframe, "timeframe", string(domain.Timeframe1h), "Bar timeframe")
	backtestCmd.Flags().StringVar(&btStart, "start", "", "First day to include (YYYY-MM-DD)")
	backtestCmd.Flags().StringVar(&btEnd, "end", "", "Last day to include (YYYY-MM-DD)")
	backtestCmd.Flags().IntVar(&btShort, "short", 10, "Short moving-average window")
	backtestCmd.Flags().IntVar(&btLong, "long", 30, "Long moving-average window")
	backtestCmd.Flags().Float64Var(&btStopLoss, "stop-loss", 0.02, "Stop-loss fraction")
	backtestCmd.Flags().Float64Var(&btTakeProfit, "take-profit", 0.05, "Take-profit fraction")
	backtestCmd.Flags().Float64Var(&btCommission, "commission", -1, "Commission fraction (default from config)")
	backtestCmd.Flags().StringVar(&btFormat, "format", "table", "Output format: table, json")
	backtestCmd.Flags().BoolVar(&btTrades, "trades", false, "Print the trade log")
	backtestCmd.MarkFlagRequired("symbol")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	if btFormat != "table" && btFormat != "json" {
		return fmt.Errorf("%w: format must be table or json", domain.ErrInvalidInput)
	}
	tf := domain.Timeframe(btTimeframe)
	if !tf.IsValid() {
		return fmt.Errorf("%w: unknown timeframe %q", domain.ErrInvalidInput, btTimeframe)
	}
	start, err := parseDay(btStart)
	if err != nil {
		return err
	}
	end, err := parseDay(btEnd)
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

	commission := env.cfg.Engine.Commission
	if btCommission >= 0 {
		commission = btCommission
	}
	params := domain.StrategyParams{
		ShortWindow: btShort,
		LongWindow:  btLong,
		StopLoss:    btStopLoss,
		TakeProfit:  btTakeProfit,
		Commission:  commission,
	}

	symbol := strings.ToUpper(btSymbol)
	series, err := env.data.Fetch(ctx, symbol, tf, start, end)
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", symbol, tf, err)
	}

	engine := app.NewEngine(env.cfg, env.logger)
	res, err := engine.Run(ctx, series, params)
	if err != nil {
		return err
	}
	report := domain.BacktestReport{
		Symbol:    symbol,
		Timeframe: tf,
		Result:    res,
		Metrics:   backtest.Evaluate(res),
	}

	env.logger.Debug("Backtest finished",
		zap.String("symbol", symbol),
		zap.Int("bars", series.Len()),
		zap.Int("trades", len(res.Trades)),
	)

	out := cmd.OutOrStdout()
	if btFormat == "json" {
		return writeJSON(out, report)
	}

	fmt.Fprintf(out, "%s %s, %d bars\n", symbol, tf, series.Len())
	fmt.Fprintf(out, "Params: %s\n", params)
	fmt.Fprintf(out, "Final value: %.2f (initial %.2f)\n\n", res.FinalValue(), res.InitialCapital)
	writeMetrics(out, report.Metrics)
	if btTrades && len(res.Trades) > 0 {
		fmt.Fprintln(out)
		writeTrades(out, res.Trades)
	}
	return nil
}
