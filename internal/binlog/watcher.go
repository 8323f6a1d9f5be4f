// Package binlog tails a MySQL binary log and reports which monitored tables
// received row changes, so they can be polled ahead of schedule.
package binlog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"
)

// Config holds the replication connection settings
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ServerID uint32
	Flavor   string // mysql, mariadb
}

// Watcher streams row events from the current binlog position onwards
type Watcher struct {
	cfg    Config
	tables map[string]string // lowercased name -> configured name
	notify func(table string)
	logger *logrus.Logger
}

// NewWatcher creates a watcher for the given tables. Tables may be plain
// names or schema-qualified as "schema.table".
func NewWatcher(cfg Config, tables []string, notify func(table string), logger *logrus.Logger) *Watcher {
	if cfg.Flavor == "" {
		cfg.Flavor = mysql.MySQLFlavor
	}
	names := make(map[string]string, len(tables))
	for _, t := range tables {
		names[strings.ToLower(t)] = t
	}
	return &Watcher{
		cfg:    cfg,
		tables: names,
		notify: notify,
		logger: logger,
	}
}

// Match returns the configured table name for a row event on schema.table
func (w *Watcher) Match(schema, table string) (string, bool) {
	if name, ok := w.tables[strings.ToLower(schema+"."+table)]; ok {
		return name, true
	}
	name, ok := w.tables[strings.ToLower(table)]
	return name, ok
}

// rowsAction names the kind of change carried by a rows event
func rowsAction(t replication.EventType) string {
	switch t {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return "insert"
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return "update"
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return "delete"
	default:
		return ""
	}
}

// masterPosition reads the server's current binlog file and offset
func (w *Watcher) masterPosition() (mysql.Position, error) {
	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	conn, err := client.Connect(addr, w.cfg.User, w.cfg.Password, "")
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	res, err := conn.Execute("SHOW MASTER STATUS")
	if err != nil {
		// MySQL 8.4 renamed the statement
		res, err = conn.Execute("SHOW BINARY LOG STATUS")
		if err != nil {
			return mysql.Position{}, fmt.Errorf("failed to read binlog position: %w", err)
		}
	}
	if res.Resultset == nil || res.RowNumber() == 0 {
		return mysql.Position{}, errors.New("binary logging is not enabled on the server")
	}

	name, err := res.GetString(0, 0)
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to read binlog file: %w", err)
	}
	pos, err := res.GetUint(0, 1)
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to read binlog offset: %w", err)
	}
	return mysql.Position{Name: name, Pos: uint32(pos)}, nil
}

// Run streams events until ctx is cancelled. Each rows event on a monitored
// table results in one notify call.
func (w *Watcher) Run(ctx context.Context) error {
	position, err := w.masterPosition()
	if err != nil {
		return err
	}

	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: w.cfg.ServerID,
		Flavor:   w.cfg.Flavor,
		Host:     w.cfg.Host,
		Port:     uint16(w.cfg.Port),
		User:     w.cfg.User,
		Password: w.cfg.Password,
	})
	defer syncer.Close()

	streamer, err := syncer.StartSync(position)
	if err != nil {
		return fmt.Errorf("failed to start binlog sync: %w", err)
	}
	w.logger.Infof("Started binlog sync from position: %s:%d", position.Name, position.Pos)

	for {
		event, err := streamer.GetEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Context cancelled, stopping binlog watcher")
				return nil
			}
			return fmt.Errorf("failed to get binlog event: %w", err)
		}

		switch e := event.Event.(type) {
		case *replication.RowsEvent:
			action := rowsAction(event.Header.EventType)
			if action == "" || e.Table == nil {
				continue
			}
			table, ok := w.Match(string(e.Table.Schema), string(e.Table.Table))
			if !ok {
				continue
			}
			w.logger.Debugf("Binlog %s on %s.%s (%d rows)", action, e.Table.Schema, e.Table.Table, len(e.Rows))
			w.notify(table)

		case *replication.RotateEvent:
			w.logger.Infof("Binlog rotated to: %s", string(e.NextLogName))
		}
	}
}
