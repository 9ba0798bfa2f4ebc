package datasource

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eyupikiz-lgtm/QuantAup/internal/config"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

const (
	// klineLimit is the largest page the futures kline endpoint returns.
	klineLimit = 1500
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

var binanceIntervals = map[domain.Timeframe]time.Duration{
	domain.Timeframe5m: 5 * time.Minute,
	domain.Timeframe1h: time.Hour,
	domain.Timeframe1d: 24 * time.Hour,
}

// klineClient is the subset of the futures API used by Binance.
type klineClient interface {
	Klines(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]*futures.Kline, error)
	Symbols(ctx context.Context) ([]string, error)
}

type futuresKlines struct {
	client *futures.Client
}

func (f futuresKlines) Klines(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]*futures.Kline, error) {
	return f.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start).
		EndTime(end).
		Limit(limit).
		Do(ctx)
}

func (f futuresKlines) Symbols(ctx context.Context) ([]string, error) {
	info, err := f.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

// Binance serves series from the Binance futures kline API.
type Binance struct {
	client      klineClient
	rateLimiter *rate.Limiter
	logger      *zap.Logger
	now         func() time.Time
}

// NewBinance creates a rate-limited Binance source.
func NewBinance(cfg config.BinanceConfig, logger *zap.Logger) *Binance {
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return newBinance(futuresKlines{client: client}, cfg, logger)
}

func newBinance(client klineClient, cfg config.BinanceConfig, logger *zap.Logger) *Binance {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	return &Binance{
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:      logger.Named("binance"),
		now:         time.Now,
	}
}

// Fetch pages through klines from start to end. A nil start fetches the most
// recent page; a nil end means now.
func (b *Binance) Fetch(ctx context.Context, symbol string, timeframe domain.Timeframe, start, end *time.Time) (*domain.MarketSeries, error) {
	step, ok := binanceIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", domain.ErrInvalidInput, timeframe)
	}

	endMs := b.now().UnixMilli()
	if end != nil {
		endMs = end.UnixMilli()
	}
	startMs := endMs - int64(klineLimit)*step.Milliseconds()
	if start != nil {
		startMs = start.UnixMilli()
	}

	var bars []domain.Bar
	for cursor := startMs; cursor <= endMs; {
		klines, err := b.klines(ctx, symbol, timeframe.String(), cursor, endMs)
		if err != nil {
			return nil, fmt.Errorf("fetch %s klines: %w", symbol, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			bar, err := toBar(k)
			if err != nil {
				return nil, fmt.Errorf("decode %s kline at %d: %w", symbol, k.OpenTime, err)
			}
			bars = append(bars, bar)
		}

		next := klines[len(klines)-1].OpenTime + 1
		if next <= cursor || len(klines) < klineLimit {
			break
		}
		cursor = next
	}

	b.logger.Debug("Fetched klines",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe.String()),
		zap.Int("bars", len(bars)),
	)

	if len(bars) == 0 {
		return nil, domain.NewNotFoundError("market data", symbol+"/"+timeframe.String())
	}
	return domain.NewMarketSeries(symbol, timeframe, bars)
}

// Symbols lists the symbols reported by the exchange.
func (b *Binance) Symbols(ctx context.Context) ([]string, error) {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.client.Symbols(ctx)
}

// Timeframes returns every supported interval; the API serves all of them for any symbol.
func (b *Binance) Timeframes(ctx context.Context, symbol string) ([]domain.Timeframe, error) {
	return []domain.Timeframe{domain.Timeframe1d, domain.Timeframe1h, domain.Timeframe5m}, nil
}

// klines requests one page with rate limiting and exponential backoff.
func (b *Binance) klines(ctx context.Context, symbol, interval string, start, end int64) ([]*futures.Kline, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := b.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		klines, err := b.client.Klines(ctx, symbol, interval, start, end, klineLimit)
		if err == nil {
			return klines, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
		b.logger.Warn("Kline request failed, retrying",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func toBar(k *futures.Kline) (domain.Bar, error) {
	fields := [...]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var v [5]float64
	for i, s := range fields {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Bar{}, err
		}
		v[i] = f
	}
	return domain.Bar{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      v[0],
		High:      v[1],
		Low:       v[2],
		Close:     v[3],
		Volume:    v[4],
	}, nil
}

var _ Source = (*Binance)(nil)
