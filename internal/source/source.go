// Package source fetches the current rows of a monitored table. Every fetch
// returns the complete row set or an error, never a partial result.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"table-monitor/internal/models"
)

// Source returns every record currently in a table
type Source interface {
	Fetch(ctx context.Context, table string) ([]models.Record, error)
	Close() error
}

// Supported source types
const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
	TypeAirtable = "airtable"
)

// Config selects and configures a source
type Config struct {
	Type     string
	DSN      string
	IDColumn string
	Airtable AirtableConfig
}

// New creates the source named by cfg.Type
func New(ctx context.Context, cfg Config, logger *logrus.Logger) (Source, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeMySQL, TypeSQLite:
		return NewSQLSource(strings.ToLower(cfg.Type), cfg.DSN, cfg.IDColumn, logger)
	case TypePostgres:
		return NewPostgresSource(ctx, cfg.DSN, cfg.IDColumn, logger)
	case TypeAirtable:
		return NewAirtableSource(cfg.Airtable, logger), nil
	}
	return nil, fmt.Errorf("unsupported source type: %q", cfg.Type)
}

// toRecord turns one row into a record. The id column becomes the record id;
// NULL columns are left out of the field map like blank fields of a remote API.
func toRecord(columns []string, values []interface{}, idColumn string) (models.Record, error) {
	rec := models.Record{Fields: make(map[string]interface{}, len(columns))}
	found := false
	for i, col := range columns {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if strings.EqualFold(col, idColumn) {
			if v == nil {
				return models.Record{}, fmt.Errorf("column %s is NULL", col)
			}
			rec.ID = fmt.Sprint(v)
			found = true
			continue
		}
		if v == nil {
			continue
		}
		rec.Fields[col] = v
	}
	if !found {
		return models.Record{}, fmt.Errorf("id column %s not found", idColumn)
	}
	return rec, nil
}

// quoteIdentifier quotes a possibly schema-qualified table name
func quoteIdentifier(name, quote string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote + strings.ReplaceAll(p, quote, quote+quote) + quote
	}
	return strings.Join(parts, ".")
}
