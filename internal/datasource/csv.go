package datasource

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
	"github.com/eyupikiz-lgtm/QuantAup/internal/parser"
)

// CSV serves series from a directory of BIST exports.
type CSV struct {
	dir    string
	parser *parser.Parser
	logger *zap.Logger
}

// NewCSV creates a CSV source rooted at dir.
func NewCSV(dir string, logger *zap.Logger) *CSV {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("csv")
	return &CSV{
		dir:    dir,
		parser: parser.NewParser(logger),
		logger: logger,
	}
}

// Fetch loads and merges every yearly file of symbol and timeframe.
func (c *CSV) Fetch(ctx context.Context, symbol string, timeframe domain.Timeframe, start, end *time.Time) (*domain.MarketSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series, err := c.parser.LoadSymbol(c.dir, symbol, timeframe)
	if err != nil {
		return nil, err
	}

	bars := window(series.Bars, start, end)
	if len(bars) == 0 {
		return nil, domain.NewNotFoundError("market data", symbol+"/"+timeframe.String())
	}
	return domain.NewMarketSeries(symbol, timeframe, bars)
}

// Symbols lists the symbols found in the directory.
func (c *CSV) Symbols(ctx context.Context) ([]string, error) {
	files, err := parser.ScanDir(c.dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	symbols := []string{}
	for _, f := range files {
		if _, ok := seen[f.Symbol]; ok {
			continue
		}
		seen[f.Symbol] = struct{}{}
		symbols = append(symbols, f.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Timeframes lists the timeframes found in the directory, optionally for one symbol.
func (c *CSV) Timeframes(ctx context.Context, symbol string) ([]domain.Timeframe, error) {
	files, err := parser.ScanDir(c.dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.Timeframe]struct{})
	timeframes := []domain.Timeframe{}
	for _, f := range files {
		if symbol != "" && f.Symbol != symbol {
			continue
		}
		if _, ok := seen[f.Timeframe]; ok {
			continue
		}
		seen[f.Timeframe] = struct{}{}
		timeframes = append(timeframes, f.Timeframe)
	}
	sort.Slice(timeframes, func(i, j int) bool { return timeframes[i] < timeframes[j] })
	return timeframes, nil
}

var _ Source = (*CSV)(nil)
