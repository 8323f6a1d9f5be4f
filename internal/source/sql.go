package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"table-monitor/internal/models"
)

// SQLSource reads whole tables through database/sql (MySQL or SQLite)
type SQLSource struct {
	db       *sql.DB
	driver   string
	idColumn string
	logger   *logrus.Logger
}

// NewSQLSource opens a connection pool for driver ("mysql" or "sqlite")
func NewSQLSource(driver, dsn, idColumn string, logger *logrus.Logger) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	if driver == TypeSQLite {
		// An in-memory database exists per connection.
		db.SetMaxOpenConns(1)
	}
	return NewSQLSourceFromDB(db, driver, idColumn, logger), nil
}

// NewSQLSourceFromDB wraps an already opened database
func NewSQLSourceFromDB(db *sql.DB, driver, idColumn string, logger *logrus.Logger) *SQLSource {
	if idColumn == "" {
		idColumn = "id"
	}
	return &SQLSource{
		db:       db,
		driver:   driver,
		idColumn: idColumn,
		logger:   logger,
	}
}

// DB returns the underlying connection pool
func (s *SQLSource) DB() *sql.DB {
	return s.db
}

// Driver returns the database/sql driver name
func (s *SQLSource) Driver() string {
	return s.driver
}

// QuoteTable quotes a table name for the source's SQL dialect
func (s *SQLSource) QuoteTable(table string) string {
	if s.driver == TypeMySQL {
		return quoteIdentifier(table, "`")
	}
	return quoteIdentifier(table, `"`)
}

// Probe checks that table exists and is readable
func (s *SQLSource) Probe(ctx context.Context, table string) error {
	rows, err := s.db.QueryContext(ctx, "SELECT 1 FROM "+s.QuoteTable(table)+" LIMIT 1")
	if err != nil {
		return fmt.Errorf("failed to read table %s: %w", table, err)
	}
	return rows.Close()
}

// Fetch reads every row of table
func (s *SQLSource) Fetch(ctx context.Context, table string) ([]models.Record, error) {
	query := "SELECT * FROM " + s.QuoteTable(table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	var records []models.Record
	for rows.Next() {
		values := make([]interface{}, len(columns))
		targets := make([]interface{}, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", table, err)
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

// Close closes the connection pool
func (s *SQLSource) Close() error {
	return s.db.Close()
}
