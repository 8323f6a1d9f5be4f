// Package snapshot keeps the last observed value of every field of every
// record, per monitored table. State lives only in memory: a restarted
// process starts over with a first pass on every table.
package snapshot

import (
	"sort"
	"sync"
)

// Store holds one table snapshot per monitored table.
//
// Record ids and field names are kept in insertion order so that callers
// iterating over them get the same order for the same history. Writes to a
// single table must not be interleaved; the lock only protects concurrent readers.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

type table struct {
	seeded  bool
	ids     []string
	stale   int
	records map[string]*record
}

type record struct {
	fields []string
	values map[string]interface{}
}

// TableStats summarizes one table snapshot
type TableStats struct {
	Table   string `json:"table"`
	Records int    `json:"records"`
	Seeded  bool   `json:"seeded"`
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{tables: make(map[string]*table)}
}

// IsFirstPass reports whether this is the first poll of the table. It creates
// the table's entry on first use, so it returns true exactly once per table.
func (s *Store) IsFirstPass(tableName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[tableName]; ok {
		return false
	}
	s.tables[tableName] = &table{records: make(map[string]*record)}
	return true
}

// MarkSeeded records that the first pass over the table completed
func (s *Store) MarkSeeded(tableName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[tableName]; ok {
		t.seeded = true
	}
}

// Previous returns the last observed value of a field. ok is false when the
// field was never observed for that record.
func (s *Store) Previous(tableName, recordID, field string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.lookup(tableName, recordID)
	if r == nil {
		return nil, false
	}
	v, ok := r.values[field]
	return v, ok
}

// Set stores the latest value of a field, creating the table and record entries as needed
func (s *Store) Set(tableName, recordID, field string, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		t = &table{records: make(map[string]*record)}
		s.tables[tableName] = t
	}
	r, ok := t.records[recordID]
	if !ok {
		r = &record{values: make(map[string]interface{})}
		t.add(recordID, r)
	}
	if _, ok := r.values[field]; !ok {
		r.fields = append(r.fields, field)
	}
	r.values[field] = v
}

// Touch makes sure a record entry exists even if it has no fields yet
func (s *Store) Touch(tableName, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		t = &table{records: make(map[string]*record)}
		s.tables[tableName] = t
	}
	if _, ok := t.records[recordID]; !ok {
		t.add(recordID, &record{values: make(map[string]interface{})})
	}
}

// RecordIDs returns the known record ids of a table in insertion order
func (s *Store) RecordIDs(tableName string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[tableName]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(t.records))
	for _, id := range t.ids {
		if _, ok := t.records[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Has reports whether the record is part of the table snapshot
func (s *Store) Has(tableName, recordID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(tableName, recordID) != nil
}

// Fields returns the field names observed for a record, in the order they first appeared
func (s *Store) Fields(tableName, recordID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.lookup(tableName, recordID)
	if r == nil {
		return nil
	}
	fields := make([]string, len(r.fields))
	copy(fields, r.fields)
	return fields
}

// Values returns a copy of the last observed field values of a record.
// Fields whose last observed value was blank (nil) are left out.
func (s *Store) Values(tableName, recordID string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.lookup(tableName, recordID)
	if r == nil {
		return nil
	}
	values := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		if v != nil {
			values[k] = v
		}
	}
	return values
}

// Forget drops a record from the table snapshot
func (s *Store) Forget(tableName, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	if !ok {
		return
	}
	if _, ok := t.records[recordID]; !ok {
		return
	}
	delete(t.records, recordID)
	t.stale++
}

// Stats returns a summary of every table snapshot, sorted by table name
func (s *Store) Stats() []TableStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make([]TableStats, 0, len(s.tables))
	for name, t := range s.tables {
		stats = append(stats, TableStats{Table: name, Records: len(t.records), Seeded: t.seeded})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Table < stats[j].Table })
	return stats
}

// add appends a new record, first dropping ids left behind by Forget so a
// re-created record is listed once.
func (t *table) add(recordID string, r *record) {
	if t.stale > 0 {
		live := t.ids[:0]
		for _, id := range t.ids {
			if _, ok := t.records[id]; ok {
				live = append(live, id)
			}
		}
		t.ids = live
		t.stale = 0
	}
	t.records[recordID] = r
	t.ids = append(t.ids, recordID)
}

func (s *Store) lookup(tableName, recordID string) *record {
	t, ok := s.tables[tableName]
	if !ok {
		return nil
	}
	return t.records[recordID]
}
