package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeMetrics(w io.Writer, m domain.MetricsSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total return\t%.2f%%\n", m.TotalReturnPct)
	fmt.Fprintf(tw, "Buy & hold return\t%.2f%%\n", m.BuyHoldReturnPct)
	fmt.Fprintf(tw, "Volatility\t%.2f%%\n", m.VolatilityPct)
	fmt.Fprintf(tw, "Sharpe ratio\t%.3f\n", m.SharpeRatio)
	fmt.Fprintf(tw, "Max drawdown\t%.2f%%\n", m.MaxDrawdownPct)
	fmt.Fprintf(tw, "Trades\t%d (%d entries, %d exits)\n", m.TotalTrades, m.EntryCount, m.ExitCount)
	fmt.Fprintf(tw, "Win rate\t%.2f%%\n", m.WinRatePct)
	tw.Flush()
}

func writeTrades(w io.Writer, trades []domain.Trade) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tPRICE\tSHARES\tREASON\tPNL")
	for _, t := range trades {
		pnl := ""
		if t.PnLPercent != nil {
			pnl = fmt.Sprintf("%.2f%%", *t.PnLPercent)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%s\t%s\n",
			t.Timestamp.Format("2006-01-02 15:04"), t.Type, t.Price, t.Shares, t.Reason, pnl)
	}
	tw.Flush()
}

func writeSweep(w io.Writer, res *domain.OptimizationResult) {
	fmt.Fprintf(w, "Objective: %s\n", res.Objective)
	fmt.Fprintf(w, "Combinations: %d total, %d pruned, %d evaluated, %d skipped\n",
		res.Total, res.Pruned, res.Evaluated, res.Skipped)
	if res.Partial {
		fmt.Fprintln(w, "Sweep was interrupted; results are partial.")
	}
	fmt.Fprintf(w, "Duration: %s\n\n", res.Duration)

	fmt.Fprintf(w, "Best: %s (score %.4f)\n", res.BestParams, res.BestScore)
	writeMetrics(w, res.BestMetrics)

	if len(res.Top) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSHORT\tLONG\tSL\tTP\tSCORE\tRETURN\tDD\tTRADES")
	for i, c := range res.Top {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%.4f\t%.4f\t%.4f\t%.2f%%\t%.2f%%\t%d\n",
			i+1, c.Params.ShortWindow, c.Params.LongWindow, c.Params.StopLoss, c.Params.TakeProfit,
			c.Score, c.Metrics.TotalReturnPct, c.Metrics.MaxDrawdownPct, c.Metrics.TotalTrades)
	}
	tw.Flush()
}
