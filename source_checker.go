package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"table-monitor/internal/source"
)

// tableProber is implemented by the SQL sources
type tableProber interface {
	Probe(ctx context.Context, table string) error
}

// SourceChecker validates the source connection and required permissions before polling starts
type SourceChecker struct {
	src    source.Source
	tables []string
	binlog bool
	logger *logrus.Logger
}

// NewSourceChecker creates a new source checker
func NewSourceChecker(src source.Source, tables []string, binlog bool, logger *logrus.Logger) *SourceChecker {
	return &SourceChecker{
		src:    src,
		tables: tables,
		binlog: binlog,
		logger: logger,
	}
}

// Check verifies the source is reachable and every monitored table can be read
func (c *SourceChecker) Check(ctx context.Context) error {
	switch s := c.src.(type) {
	case *source.SQLSource:
		if err := s.DB().PingContext(ctx); err != nil {
			return fmt.Errorf("failed to connect to %s server: %w", s.Driver(), err)
		}
		c.logger.Infof("Successfully connected to %s", s.Driver())
		if s.Driver() == source.TypeMySQL {
			if err := c.checkMySQL(ctx, s.DB()); err != nil {
				return err
			}
		}
	case *source.PostgresSource:
		if err := s.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to postgres server: %w", err)
		}
		c.logger.Info("Successfully connected to postgres")
	default:
		c.logger.Debugf("No startup checks for %T", c.src)
		return nil
	}

	prober, ok := c.src.(tableProber)
	if !ok {
		return nil
	}
	for _, table := range c.tables {
		if err := prober.Probe(ctx, table); err != nil {
			return err
		}
	}
	c.logger.Infof("All %d monitored tables are readable", len(c.tables))
	return nil
}

// requiredPrivileges lists the grants the monitor needs on MySQL
func (c *SourceChecker) requiredPrivileges() []string {
	if c.binlog {
		return []string{"REPLICATION SLAVE", "REPLICATION CLIENT", "SELECT"}
	}
	return []string{"SELECT"}
}

// missingPrivileges returns the entries of required absent from the grants text
func missingPrivileges(grants string, required []string) []string {
	upper := strings.ToUpper(grants)
	if strings.Contains(upper, "ALL PRIVILEGES") {
		return nil
	}
	var missing []string
	for _, priv := range required {
		if !strings.Contains(upper, priv) {
			missing = append(missing, priv)
		}
	}
	return missing
}

// binlogEnabled interprets the value of the log_bin variable
func binlogEnabled(value string) bool {
	switch strings.ToUpper(value) {
	case "ON", "1":
		return true
	}
	return false
}

func (c *SourceChecker) checkMySQL(ctx context.Context, db *sql.DB) error {
	// SHOW GRANTS can return multiple rows
	var allGrants strings.Builder
	rows, err := db.QueryContext(ctx, "SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// Try alternative query for MySQL 5.6
		rows, err = db.QueryContext(ctx, "SHOW GRANTS")
		if err != nil {
			return fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return fmt.Errorf("failed to scan grant: %w", err)
		}
		if allGrants.Len() > 0 {
			allGrants.WriteString("; ")
		}
		allGrants.WriteString(grant)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating grants: %w", err)
	}

	grantsStr := allGrants.String()
	if missing := missingPrivileges(grantsStr, c.requiredPrivileges()); len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s", strings.Join(missing, ", "), grantsStr)
	}
	c.logger.Info("All required permissions verified")

	if !c.binlog {
		return nil
	}

	var name, logBin string
	if err := db.QueryRowContext(ctx, "SHOW VARIABLES LIKE 'log_bin'").Scan(&name, &logBin); err != nil {
		if err := db.QueryRowContext(ctx, "SELECT @@log_bin").Scan(&logBin); err != nil {
			c.logger.Warn("Could not verify binlog status")
			return nil
		}
	}
	if !binlogEnabled(logBin) {
		return fmt.Errorf("binary logging (log_bin) is not enabled. Current value: %s. Enable it in MySQL configuration or disable binlog watching", logBin)
	}
	c.logger.Info("Binary logging is enabled")

	var binlogFormat string
	if err := db.QueryRowContext(ctx, "SHOW VARIABLES LIKE 'binlog_format'").Scan(&name, &binlogFormat); err != nil {
		if err := db.QueryRowContext(ctx, "SELECT @@binlog_format").Scan(&binlogFormat); err != nil {
			binlogFormat = ""
		}
	}
	if binlogFormat != "" && !strings.EqualFold(binlogFormat, "ROW") {
		c.logger.Warnf("binlog_format is set to '%s', row events will not wake up table polls", binlogFormat)
	} else if binlogFormat != "" {
		c.logger.Info("binlog_format is set to ROW")
	}
	return nil
}
