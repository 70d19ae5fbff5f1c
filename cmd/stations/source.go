package stations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DefaultBatchSize is the number of rows fetched per page
const DefaultBatchSize = 10000

// DefaultTables is the radio-sharded station layout
var DefaultTables = []string{TableName(RadioGSM), TableName(RadioWCDMA), TableName(RadioLTE)}

// Error definitions
var (
	ErrSourceQuery  = errors.New("station source query failed")
	ErrInvalidTable = errors.New("station table name is invalid")
)

// validIdentifier matches a plain PostgreSQL identifier
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IsValidTableName validates that a table name is safe to use in SQL queries
func IsValidTableName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	return validIdentifier.MatchString(name)
}

const stationColumns = `radio, mcc, mnc, lac, cid, psc, lat, lon, radius, samples, changeable, avg_signal, created, modified, last_seen`

// keyColumns is the stable ordering used for keyset pagination
const keyColumns = `radio, mcc, mnc, lac, cid`

// cursor is the cell key of the last row of a page
type cursor struct {
	radio int16
	mcc   int32
	mnc   int32
	lac   int32
	cid   int64
}

// Source streams exportable station records out of the store.
// It holds no per-stream state and is safe for concurrent use.
type Source struct {
	db        *sql.DB
	tables    []string
	batchSize int
	logger    *slog.Logger
}

// NewSource creates a station source reading the given tables in order
func NewSource(db *sql.DB, tables []string, batchSize int, logger *slog.Logger) *Source {
	if len(tables) == 0 {
		tables = DefaultTables
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Source{
		db:        db,
		tables:    tables,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Stream calls emit for every exportable record inside window, table by
// table, in cell key order. A fresh call re-queries the store. Any store
// fault is returned wrapped in ErrSourceQuery; an error returned by emit
// stops the stream and is returned unchanged.
func (s *Source) Stream(ctx context.Context, window Window, emit func(*Record) error) error {
	for _, table := range s.tables {
		if !IsValidTableName(table) {
			return fmt.Errorf("%w: '%s'", ErrInvalidTable, table)
		}
	}

	for _, table := range s.tables {
		count, err := s.streamTable(ctx, table, window, emit)
		if err != nil {
			return err
		}
		s.logger.Debug(fmt.Sprintf("  📋 %s: %d rows read", table, count))
	}
	return nil
}

func (s *Source) streamTable(ctx context.Context, table string, window Window, emit func(*Record) error) (int64, error) {
	var (
		after *cursor
		total int64
		page  int
	)

	for {
		page++
		query, args := buildPageQuery(table, window, after, s.batchSize)

		n, last, err := s.streamPage(ctx, query, args, window, emit)
		if err != nil {
			return total, err
		}
		total += int64(n)

		s.logger.Debug(fmt.Sprintf("    page %d of %s: %d rows", page, table, n))

		if n < s.batchSize {
			return total, nil
		}
		after = last
	}
}

func (s *Source) streamPage(ctx context.Context, query string, args []interface{}, window Window, emit func(*Record) error) (int, *cursor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrSourceQuery, err)
	}
	defer rows.Close()

	var (
		n    int
		last cursor
	)
	for rows.Next() {
		rec, key, err := scanRecord(rows)
		if err != nil {
			return n, nil, fmt.Errorf("%w: %w", ErrSourceQuery, err)
		}
		n++
		last = key

		// The query already filters on coordinates and window; rows that
		// still fail either check are skipped, never reported as errors.
		if !rec.Exportable() || !window.Contains(rec.Modified) {
			continue
		}
		if err := emit(rec); err != nil {
			return n, nil, err
		}
	}

	if err := rows.Err(); err != nil {
		return n, nil, fmt.Errorf("%w: %w", ErrSourceQuery, err)
	}

	return n, &last, nil
}

// buildPageQuery returns the SQL and arguments for one page of a table
func buildPageQuery(table string, window Window, after *cursor, limit int) (string, []interface{}) {
	var (
		conds = []string{"lat IS NOT NULL", "lon IS NOT NULL"}
		args  []interface{}
	)

	placeholder := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !window.Start.IsZero() {
		conds = append(conds, "modified >= "+placeholder(window.Start.UTC()))
	}
	if !window.End.IsZero() {
		conds = append(conds, "modified < "+placeholder(window.End.UTC()))
	}

	if after != nil {
		conds = append(conds, fmt.Sprintf("(%s) > (%s, %s, %s, %s, %s)", keyColumns,
			placeholder(after.radio),
			placeholder(after.mcc),
			placeholder(after.mnc),
			placeholder(after.lac),
			placeholder(after.cid),
		))
	}

	//nolint:gosec // Table name is validated and quoted with pq.QuoteIdentifier
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %s",
		stationColumns,
		pq.QuoteIdentifier(table),
		strings.Join(conds, " AND "),
		keyColumns,
		placeholder(limit),
	)

	return query, args
}

func scanRecord(rows *sql.Rows) (*Record, cursor, error) {
	var (
		radio      int16
		rec        Record
		psc        sql.NullInt32
		lat        sql.NullFloat64
		lon        sql.NullFloat64
		radius     sql.NullInt32
		samples    sql.NullInt64
		changeable sql.NullBool
		avgSignal  sql.NullInt32
		lastSeen   sql.NullTime
	)

	if err := rows.Scan(
		&radio, &rec.MCC, &rec.MNC, &rec.LAC, &rec.CellID,
		&psc, &lat, &lon, &radius, &samples, &changeable, &avgSignal,
		&rec.Created, &rec.Modified, &lastSeen,
	); err != nil {
		return nil, cursor{}, fmt.Errorf("failed to scan station row: %w", err)
	}

	rec.Radio = Radio(radio)
	rec.Created = rec.Created.UTC()
	rec.Modified = rec.Modified.UTC()
	if psc.Valid {
		rec.PSC = &psc.Int32
	}
	if lat.Valid {
		rec.Lat = &lat.Float64
	}
	if lon.Valid {
		rec.Lon = &lon.Float64
	}
	if radius.Valid {
		rec.Range = &radius.Int32
	}
	if samples.Valid {
		rec.Samples = &samples.Int64
	}
	rec.Changeable = !changeable.Valid || changeable.Bool
	if avgSignal.Valid {
		rec.AverageSignal = &avgSignal.Int32
	}
	if lastSeen.Valid {
		day := time.Date(lastSeen.Time.Year(), lastSeen.Time.Month(), lastSeen.Time.Day(), 0, 0, 0, 0, time.UTC)
		rec.LastSeen = &day
	}

	key := cursor{
		radio: radio,
		mcc:   rec.MCC,
		mnc:   rec.MNC,
		lac:   rec.LAC,
		cid:   rec.CellID,
	}
	return &rec, key, nil
}
