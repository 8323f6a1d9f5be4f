// Package monitor polls the configured tables one after another, diffs each
// fetched row set against its snapshot and hands the resulting events to the
// configured sinks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/diff"
	"table-monitor/internal/models"
	"table-monitor/internal/processor"
	"table-monitor/internal/source"
)

var (
	// ErrNoTables is returned when a monitor is created without tables
	ErrNoTables = errors.New("please specify at least one table to monitor")

	// ErrFetch wraps failures of the source; the table's snapshot is left untouched
	ErrFetch = errors.New("fetch failed")
)

// Sink receives change events in the order they were detected
type Sink interface {
	Publish(event *models.ChangeEvent) error
}

// LegacySink is implemented by sinks that also accept the flattened update form
type LegacySink interface {
	PublishLegacy(event *models.LegacyEvent) error
}

// Config controls which tables are polled and how often
type Config struct {
	Tables        []string
	Interval      time.Duration
	TableInterval time.Duration
	MaxInterval   time.Duration
	LegacyEvents  bool
}

// TableStatus reports the outcome of the latest polls of a table
type TableStatus struct {
	Table       string    `json:"table"`
	Polls       int       `json:"polls"`
	Events      int       `json:"events"`
	Records     int       `json:"records"`
	Seeded      bool      `json:"seeded"`
	LastPoll    time.Time `json:"last_poll,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Monitor owns the snapshot of every configured table. Tables are polled
// sequentially from a single goroutine, so a table is never diffed twice at once.
type Monitor struct {
	cfg         Config
	source      source.Source
	engine      *diff.Engine
	transformer *processor.Transformer
	sinks       []Sink
	clock       clock.Clock
	logger      *logrus.Logger

	triggers chan string

	mu     sync.RWMutex
	status map[string]*TableStatus
}

// New creates a monitor. transformer may be nil.
func New(cfg Config, src source.Source, engine *diff.Engine, transformer *processor.Transformer, sinks []Sink, clk clock.Clock, logger *logrus.Logger) (*Monitor, error) {
	if len(cfg.Tables) == 0 {
		return nil, ErrNoTables
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.Interval)
	}
	if clk == nil {
		clk = clock.WallClock
	}

	status := make(map[string]*TableStatus, len(cfg.Tables))
	for _, table := range cfg.Tables {
		status[table] = &TableStatus{Table: table}
	}

	return &Monitor{
		cfg:         cfg,
		source:      src,
		engine:      engine,
		transformer: transformer,
		sinks:       sinks,
		clock:       clk,
		logger:      logger,
		triggers:    make(chan string, len(cfg.Tables)),
		status:      status,
	}, nil
}

// Run polls every table right away, then again every interval until ctx is
// cancelled. After a cycle in which every table failed to fetch, the wait
// doubles up to MaxInterval.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Infof("Starting table monitor for %d tables (interval %v)", len(m.cfg.Tables), m.cfg.Interval)
	backoff := NewBackoffManager(m.cfg.Interval, m.cfg.MaxInterval)

	for {
		failed, err := m.runCycle(ctx)
		if err != nil {
			m.logger.Errorf("Poll cycle finished with errors: %v", err)
		}
		if failed == len(m.cfg.Tables) {
			backoff.IncreaseInterval()
		} else {
			backoff.ResetInterval()
		}

		if !m.wait(ctx, backoff.GetInterval()) {
			m.logger.Info("Context cancelled, stopping table monitor")
			return nil
		}
	}
}

// wait sleeps until the next cycle, serving re-poll requests in the meantime.
// It returns false when ctx is done.
func (m *Monitor) wait(ctx context.Context, d time.Duration) bool {
	deadline := m.clock.After(d)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return true
		case table := <-m.triggers:
			pending := map[string]bool{table: true}
		drain:
			for {
				select {
				case t := <-m.triggers:
					pending[t] = true
				default:
					break drain
				}
			}
			for _, t := range m.cfg.Tables {
				if !pending[t] {
					continue
				}
				if err := m.PollTable(ctx, t); err != nil {
					m.logger.WithField("table", t).Errorf("Triggered poll failed: %v", err)
				}
			}
		}
	}
}

// Trigger asks Run to poll table before the next scheduled cycle.
// Requests for unknown tables are ignored and repeated requests coalesce.
func (m *Monitor) Trigger(table string) {
	m.mu.RLock()
	_, ok := m.status[table]
	m.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case m.triggers <- table:
	default:
	}
}

// RunOnce polls every table once, in configuration order
func (m *Monitor) RunOnce(ctx context.Context) error {
	_, err := m.runCycle(ctx)
	return err
}

func (m *Monitor) runCycle(ctx context.Context) (int, error) {
	var errs []error
	failed := 0
	for i, table := range m.cfg.Tables {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if err := m.PollTable(ctx, table); err != nil {
			if errors.Is(err, ErrFetch) {
				failed++
			}
			errs = append(errs, err)
		}
		if m.cfg.TableInterval > 0 && i < len(m.cfg.Tables)-1 {
			select {
			case <-ctx.Done():
				return failed, ctx.Err()
			case <-m.clock.After(m.cfg.TableInterval):
			}
		}
	}
	return failed, errors.Join(errs...)
}

// PollTable fetches one table, diffs it and dispatches the events.
// If the fetch fails the table's snapshot is left as it was.
func (m *Monitor) PollTable(ctx context.Context, table string) error {
	log := m.logger.WithField("table", table)
	started := m.clock.Now()

	records, err := m.source.Fetch(ctx, table)
	if err != nil {
		log.Warnf("Failed to fetch records: %v", err)
		m.updateStatus(table, func(s *TableStatus) {
			s.Polls++
			s.LastPoll = started
			s.LastError = err.Error()
		})
		return fmt.Errorf("%w for table %s: %w", ErrFetch, table, err)
	}

	events := m.engine.DiffTable(table, records)
	m.updateStatus(table, func(s *TableStatus) {
		s.Polls++
		s.LastPoll = started
		s.LastSuccess = started
		s.LastError = ""
		s.Records = len(m.engine.Store().RecordIDs(table))
		s.Seeded = true
		s.Events += len(events)
	})

	if len(events) > 0 {
		log.Infof("Detected %d changes", len(events))
	} else {
		log.Debugf("No changes in %d records", len(records))
	}

	return m.dispatch(table, events)
}

// dispatch passes each event through the transformer and on to every sink.
// The first sink error stops delivery of the remaining events of this poll.
func (m *Monitor) dispatch(table string, events []*models.ChangeEvent) error {
	for _, event := range events {
		out, err := m.transformer.Transform(event)
		if errors.Is(err, processor.ErrEventRejected) {
			m.logger.Debugf("Event rejected by transformer: %s (type: %s)", table, event.Type)
			continue
		}
		if err != nil {
			m.logger.Errorf("Error transforming %s event for %s: %v", event.Type, table, err)
			continue
		}

		for _, sink := range m.sinks {
			if err := sink.Publish(out); err != nil {
				return fmt.Errorf("failed to publish %s event for %s: %w", out.Type, table, err)
			}
			if !m.cfg.LegacyEvents {
				continue
			}
			legacySink, ok := sink.(LegacySink)
			if !ok {
				continue
			}
			if legacy, ok := out.Legacy(); ok {
				if err := legacySink.PublishLegacy(legacy); err != nil {
					return fmt.Errorf("failed to publish legacy event for %s: %w", table, err)
				}
			}
		}
	}
	return nil
}

func (m *Monitor) updateStatus(table string, fn func(*TableStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[table]
	if !ok {
		s = &TableStatus{Table: table}
		m.status[table] = s
	}
	fn(s)
}

// Status returns a copy of every table's status in configuration order
func (m *Monitor) Status() []TableStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TableStatus, 0, len(m.cfg.Tables))
	for _, table := range m.cfg.Tables {
		out = append(out, *m.status[table])
	}
	return out
}

// TableStatus returns the status of one table
func (m *Monitor) TableStatus(table string) (TableStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.status[table]
	if !ok {
		return TableStatus{}, false
	}
	return *s, true
}
