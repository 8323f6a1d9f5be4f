package source

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/models"
)

// PostgresSource reads whole tables from PostgreSQL through a pgx pool
type PostgresSource struct {
	pool     *pgxpool.Pool
	idColumn string
	logger   *logrus.Logger
}

// NewPostgresSource connects a pool to dsn
func NewPostgresSource(ctx context.Context, dsn, idColumn string, logger *logrus.Logger) (*PostgresSource, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if idColumn == "" {
		idColumn = "id"
	}
	return &PostgresSource{
		pool:     pool,
		idColumn: idColumn,
		logger:   logger,
	}, nil
}

// Ping checks the pool can reach the server
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Fetch reads every row of table
func (s *PostgresSource) Fetch(ctx context.Context, table string) ([]models.Record, error) {
	rows, err := s.pool.Query(ctx, "SELECT * FROM "+quoteIdentifier(table, `"`))
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", table, err)
	}
	defer rows.Close()

	descriptions := rows.FieldDescriptions()
	columns := make([]string, len(descriptions))
	for i, fd := range descriptions {
		columns[i] = fd.Name
	}

	var records []models.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row of %s: %w", table, err)
		}
		for i := range values {
			values[i] = postgresValue(values[i])
		}
		rec, err := toRecord(columns, values, s.idColumn)
		if err != nil {
			return nil, fmt.Errorf("invalid row in %s: %w", table, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows of %s: %w", table, err)
	}

	s.logger.Debugf("Fetched %d rows from %s", len(records), table)
	return records, nil
}

// Close releases the pool
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

// Probe checks that table exists and is readable
func (s *PostgresSource) Probe(ctx context.Context, table string) error {
	if _, err := s.pool.Exec(ctx, "SELECT 1 FROM "+quoteIdentifier(table, `"`)+" LIMIT 1"); err != nil {
		return fmt.Errorf("failed to read table %s: %w", table, err)
	}
	return nil
}

// postgresValue turns the driver types pgx returns from rows.Values into plain
// values: NUMERIC becomes a json.Number, UUID its canonical string, and other
// pgtype values their driver value or text form. Arrays and JSON documents are
// converted element by element.
func postgresValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string, []byte, int64, int32, int16, float64, float32, json.Number, time.Time:
		return v
	case pgtype.Numeric:
		return numericValue(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.UUID:
		if !t.Valid {
			return nil
		}
		return uuid.UUID(t.Bytes).String()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = postgresValue(t[i])
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = postgresValue(item)
		}
		return out
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		return postgresValue(dv)
	case fmt.Stringer:
		return t.String()
	}
	return v
}

func numericValue(n pgtype.Numeric) interface{} {
	if !n.Valid {
		return nil
	}
	switch {
	case n.NaN:
		return math.NaN()
	case n.InfinityModifier == pgtype.Infinity:
		return math.Inf(1)
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return math.Inf(-1)
	case n.Int == nil:
		return json.Number("0")
	case n.Exp == 0:
		return json.Number(n.Int.String())
	}
	return json.Number(fmt.Sprintf("%se%d", n.Int.String(), n.Exp))
}
