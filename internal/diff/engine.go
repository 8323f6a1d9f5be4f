// Package diff compares the current rows of a table with the stored snapshot
// and turns the differences into create, delete and update events.
package diff

import (
	"sort"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/models"
	"table-monitor/internal/snapshot"
	"table-monitor/internal/value"
)

// Engine diffs tables against the snapshots it keeps in its store.
// Calls for the same table must not overlap.
type Engine struct {
	store  *snapshot.Store
	clock  clock.Clock
	logger *logrus.Logger
}

// NewEngine creates a diff engine backed by store. A nil clock means the wall clock.
func NewEngine(store *snapshot.Store, clk clock.Clock, logger *logrus.Logger) *Engine {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Engine{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// Store returns the snapshot store the engine reads and updates
func (e *Engine) Store() *snapshot.Store {
	return e.store
}

// DiffTable compares records with the table's snapshot, brings the snapshot up
// to date and returns the detected changes: one batched create event, one
// batched delete event, then one update event per changed field.
// The first call for a table only seeds the snapshot and returns no events.
func (e *Engine) DiffTable(tableName string, records []models.Record) []*models.ChangeEvent {
	records = dedupe(records)

	if e.store.IsFirstPass(tableName) {
		for _, rec := range records {
			e.seed(tableName, rec)
		}
		e.store.MarkSeeded(tableName)
		e.logger.WithFields(logrus.Fields{"table": tableName, "records": len(records)}).Debug("Seeded table snapshot")
		return nil
	}

	now := e.clock.Now().UTC()
	var events []*models.ChangeEvent

	current := make(map[string]struct{}, len(records))
	var created, existing []models.Record
	for _, rec := range records {
		current[rec.ID] = struct{}{}
		if e.store.Has(tableName, rec.ID) {
			existing = append(existing, rec)
		} else {
			created = append(created, rec)
		}
	}

	var deleted []models.Record
	for _, id := range e.store.RecordIDs(tableName) {
		if _, ok := current[id]; !ok {
			deleted = append(deleted, models.Record{ID: id, Fields: e.store.Values(tableName, id)})
		}
	}

	if len(created) > 0 {
		events = append(events, &models.ChangeEvent{
			Type:      models.Create,
			Table:     tableName,
			Timestamp: now,
			Records:   created,
		})
		for _, rec := range created {
			e.seed(tableName, rec)
		}
	}

	if len(deleted) > 0 {
		events = append(events, &models.ChangeEvent{
			Type:      models.Delete,
			Table:     tableName,
			Timestamp: now,
			Records:   deleted,
		})
		for _, rec := range deleted {
			e.store.Forget(tableName, rec.ID)
		}
	}

	for _, rec := range existing {
		events = append(events, e.diffRecord(tableName, rec, now)...)
	}

	if len(events) > 0 {
		e.logger.WithFields(logrus.Fields{
			"table":   tableName,
			"created": len(created),
			"deleted": len(deleted),
			"events":  len(events),
		}).Debug("Detected changes")
	}
	return events
}

// diffRecord checks every field known from the snapshot or present now.
// A field missing from rec is blank: it may have just been cleared.
func (e *Engine) diffRecord(tableName string, rec models.Record, now time.Time) []*models.ChangeEvent {
	var events []*models.ChangeEvent
	for _, field := range fieldNames(e.store.Fields(tableName, rec.ID), rec.Fields) {
		newValue := rec.Fields[field]
		previousValue, _ := e.store.Previous(tableName, rec.ID, field)
		if !value.Equal(previousValue, newValue) {
			events = append(events, &models.ChangeEvent{
				Type:          models.Update,
				Table:         tableName,
				Timestamp:     now,
				RecordID:      rec.ID,
				FieldName:     field,
				PreviousValue: previousValue,
				NewValue:      newValue,
			})
		}
		e.store.Set(tableName, rec.ID, field, newValue)
	}
	return events
}

// seed stores every field of rec without comparing
func (e *Engine) seed(tableName string, rec models.Record) {
	e.store.Touch(tableName, rec.ID)
	for _, field := range sortedKeys(rec.Fields) {
		e.store.Set(tableName, rec.ID, field, rec.Fields[field])
	}
}

// fieldNames returns the stored field names followed by the fields that
// appear only in current, sorted by name.
func fieldNames(stored []string, current map[string]interface{}) []string {
	names := make([]string, 0, len(stored)+len(current))
	seen := make(map[string]struct{}, len(stored))
	for _, name := range stored {
		seen[name] = struct{}{}
		names = append(names, name)
	}
	var added []string
	for name := range current {
		if _, ok := seen[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	return append(names, added...)
}

func sortedKeys(fields map[string]interface{}) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// dedupe keeps the last occurrence of each record id, at the position of the first
func dedupe(records []models.Record) []models.Record {
	index := make(map[string]int, len(records))
	out := make([]models.Record, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.ID]; ok {
			out[i] = rec
			continue
		}
		index[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out
}
