package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eyupikiz-lgtm/QuantAup/internal/db"
	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// insertBatchSize bounds the number of queued inserts per round trip.
const insertBatchSize = 1000

// marketDataRepo implements MarketDataRepository using PostgreSQL.
type marketDataRepo struct {
	pool *db.Pool
}

// NewMarketDataRepository creates a new PostgreSQL market data repository.
func NewMarketDataRepository(pool *db.Pool) MarketDataRepository {
	return &marketDataRepo{pool: pool}
}

// Fetch returns the bars of symbol and timeframe ordered by time.
func (r *marketDataRepo) Fetch(
	ctx context.Context,
	symbol string,
	timeframe domain.Timeframe,
	start, end *time.Time,
) (*domain.MarketSeries, error) {
	conditions := []string{"symbol = $1", "timeframe = $2"}
	args := []interface{}{symbol, timeframe.String()}
	argNum := 3

	if start != nil {
		conditions = append(conditions, fmt.Sprintf("datetime >= $%d", argNum))
		args = append(args, *start)
		argNum++
	}
	if end != nil {
		conditions = append(conditions, fmt.Sprintf("datetime <= $%d", argNum))
		args = append(args, *end)
	}

	query := fmt.Sprintf(`
		SELECT datetime, open, high, low, close, volume
		FROM market_data
		WHERE %s
		ORDER BY datetime
	`, strings.Join(conditions, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query market data: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan market data row: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market data rows: %w", err)
	}

	if len(bars) == 0 {
		return nil, domain.NewNotFoundError("market data", symbol+"/"+timeframe.String())
	}

	return domain.NewMarketSeries(symbol, timeframe, bars)
}

// Symbols lists the distinct stored symbols in order.
func (r *marketDataRepo) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT symbol FROM market_data ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect symbols: %w", err)
	}
	return symbols, nil
}

// Timeframes lists the stored timeframes, optionally for one symbol.
func (r *marketDataRepo) Timeframes(ctx context.Context, symbol string) ([]domain.Timeframe, error) {
	query := `SELECT DISTINCT timeframe FROM market_data ORDER BY timeframe`
	var args []interface{}
	if symbol != "" {
		query = `SELECT DISTINCT timeframe FROM market_data WHERE symbol = $1 ORDER BY timeframe`
		args = append(args, symbol)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeframes: %w", err)
	}
	defer rows.Close()

	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect timeframes: %w", err)
	}

	timeframes := make([]domain.Timeframe, len(raw))
	for i, s := range raw {
		timeframes[i] = domain.Timeframe(s)
	}
	return timeframes, nil
}

// InsertBars stores a series in batches within one transaction. Bars that
// already exist for the same symbol, timeframe and time are skipped.
func (r *marketDataRepo) InsertBars(ctx context.Context, series *domain.MarketSeries) (int64, error) {
	if series.Len() == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO market_data (symbol, datetime, open, high, low, close, volume, timeframe)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, timeframe, datetime) DO NOTHING
	`

	var inserted int64
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		for from := 0; from < len(series.Bars); from += insertBatchSize {
			to := min(from+insertBatchSize, len(series.Bars))

			batch := &pgx.Batch{}
			for _, b := range series.Bars[from:to] {
				batch.Queue(query,
					series.Symbol, b.Timestamp,
					b.Open, b.High, b.Low, b.Close, b.Volume,
					series.Timeframe.String(),
				)
			}

			results := tx.SendBatch(ctx, batch)
			for range series.Bars[from:to] {
				tag, err := results.Exec()
				if err != nil {
					_ = results.Close()
					return fmt.Errorf("failed to insert bar: %w", err)
				}
				inserted += tag.RowsAffected()
			}
			if err := results.Close(); err != nil {
				return fmt.Errorf("failed to close batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// Ensure interface implementations at compile time.
var _ MarketDataRepository = (*marketDataRepo)(nil)
