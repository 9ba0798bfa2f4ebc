// Package parser reads BIST price exports into market series.
package parser

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

// ErrUnrecognizedFile is returned for file names outside the export pattern.
var ErrUnrecognizedFile = errors.New("unrecognized BIST file name")

// Istanbul is the exchange time zone (UTC+3, no DST).
var Istanbul = time.FixedZone("TRT", 3*60*60)

// dailyClose is the session close stamped on daily bars.
const dailyClose = 17*time.Hour + 30*time.Minute

var fileNameRe = regexp.MustCompile(`^IMKBH_([A-Z0-9]+)_(G|\d+)_(\d{4})\.csv(\.gz)?$`)

// FileInfo is the metadata encoded in an export file name such as
// IMKBH_AKBNK_G_2025.csv.
type FileInfo struct {
	Path      string
	Symbol    string
	Timeframe domain.Timeframe
	Year      int
}

// ParseFileName extracts symbol, timeframe and year from a file name.
func ParseFileName(name string) (FileInfo, error) {
	m := fileNameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrUnrecognizedFile, name)
	}

	var tf domain.Timeframe
	switch m[2] {
	case "G":
		tf = domain.Timeframe1d
	case "60":
		tf = domain.Timeframe1h
	case "5":
		tf = domain.Timeframe5m
	default:
		return FileInfo{}, fmt.Errorf("%w: unsupported interval %q in %s", ErrUnrecognizedFile, m[2], name)
	}
	year, _ := strconv.Atoi(m[3])

	return FileInfo{Path: name, Symbol: m[1], Timeframe: tf, Year: year}, nil
}

// Parser parses semicolon separated Date;Time;Open;High;Low;Close;Volume
// exports. Prices may use a decimal comma.
type Parser struct {
	location *time.Location
	logger   *zap.Logger
}

// NewParser creates a new Parser.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{location: Istanbul, logger: logger}
}

type row struct {
	date, clock string
	bar         domain.Bar
}

// Parse reads bars from r. Daily exports carry an empty or 00:00 time and are
// stamped at the session close. Bars are returned sorted with duplicate
// timestamps removed (last one wins).
func (p *Parser) Parse(r io.Reader, symbol string, timeframe domain.Timeframe) (*domain.MarketSeries, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []row
	line := 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 7 {
			return nil, fmt.Errorf("line %d: expected 7 fields, got %d", line, len(rec))
		}
		if line == 1 && !looksLikeDate(rec[0]) {
			continue
		}

		bar, err := parseBar(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row{date: strings.TrimSpace(rec[0]), clock: strings.TrimSpace(rec[1]), bar: bar})
	}

	daily := true
	for _, r := range rows {
		if r.clock != "" && r.clock != "00:00" {
			daily = false
			break
		}
	}

	bars := make([]domain.Bar, 0, len(rows))
	for i, r := range rows {
		ts, err := p.timestamp(r.date, r.clock, daily)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		r.bar.Timestamp = ts
		bars = append(bars, r.bar)
	}

	bars, dropped := sortAndDedupe(bars)
	if dropped > 0 {
		p.logger.Warn("Dropped duplicate bars",
			zap.String("symbol", symbol),
			zap.Int("dropped", dropped),
		)
	}

	return domain.NewMarketSeries(symbol, timeframe, bars)
}

// ParseFile parses one export file, optionally gzip compressed. Symbol and
// timeframe come from the file name.
func (p *Parser) ParseFile(path string) (*domain.MarketSeries, error) {
	info, err := ParseFileName(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	series, err := p.Parse(r, info.Symbol, info.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	p.logger.Debug("Parsed BIST file",
		zap.String("path", path),
		zap.String("symbol", info.Symbol),
		zap.String("timeframe", string(info.Timeframe)),
		zap.Int("bars", series.Len()),
	)
	return series, nil
}

// ScanDir finds every export file below dir.
func ScanDir(dir string) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := ParseFileName(d.Name())
		if err != nil {
			return nil
		}
		info.Path = path
		files = append(files, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Timeframe != b.Timeframe {
			return a.Timeframe < b.Timeframe
		}
		return a.Year < b.Year
	})
	return files, nil
}

// LoadSymbol merges every yearly file of symbol and timeframe below dir.
func (p *Parser) LoadSymbol(dir, symbol string, timeframe domain.Timeframe) (*domain.MarketSeries, error) {
	files, err := ScanDir(dir)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	found := false
	for _, f := range files {
		if f.Symbol != symbol || f.Timeframe != timeframe {
			continue
		}
		found = true
		s, err := p.ParseFile(f.Path)
		if err != nil {
			return nil, err
		}
		bars = append(bars, s.Bars...)
	}
	if !found {
		return nil, domain.NewNotFoundError("market data", symbol+"/"+string(timeframe))
	}

	bars, _ = sortAndDedupe(bars)
	return domain.NewMarketSeries(symbol, timeframe, bars)
}

func (p *Parser) timestamp(date, clock string, daily bool) (time.Time, error) {
	day, err := parseDate(date, p.location)
	if err != nil {
		return time.Time{}, err
	}
	if daily {
		return day.Add(dailyClose), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", day.Format("2006-01-02")+" "+clock, p.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", clock, err)
	}
	return t, nil
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "2006.01.02", "02/01/2006"}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func looksLikeDate(s string) bool {
	_, err := parseDate(strings.TrimSpace(s), time.UTC)
	return err == nil
}

func parseBar(rec []string) (domain.Bar, error) {
	var prices [4]float64
	for i, name := range [...]string{"open", "high", "low", "close"} {
		v, err := parseNumber(rec[2+i])
		if err != nil {
			return domain.Bar{}, fmt.Errorf("invalid %s %q: %w", name, rec[2+i], err)
		}
		prices[i] = v
	}
	volume, err := parseNumber(rec[6])
	if err != nil {
		volume = 0
	}
	return domain.Bar{
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: volume,
	}, nil
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

func sortAndDedupe(bars []domain.Bar) ([]domain.Bar, int) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	out := bars[:0]
	dropped := 0
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			dropped++
			continue
		}
		out = append(out, b)
	}
	return out, dropped
}
