package monitor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/diff"
	"table-monitor/internal/models"
	"table-monitor/internal/processor"
	"table-monitor/internal/snapshot"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSource serves canned records per table and counts fetches
type fakeSource struct {
	mu      sync.Mutex
	records map[string][]models.Record
	errs    map[string]error
	fetches chan string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records: make(map[string][]models.Record),
		errs:    make(map[string]error),
		fetches: make(chan string, 100),
	}
}

func (s *fakeSource) set(table string, records ...models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[table] = records
}

func (s *fakeSource) fail(table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[table] = err
}

func (s *fakeSource) Fetch(ctx context.Context, table string) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.fetches <- table:
	default:
	}
	if err := s.errs[table]; err != nil {
		return nil, err
	}
	return s.records[table], nil
}

func (s *fakeSource) Close() error { return nil }

// recordingSink keeps every event it receives
type recordingSink struct {
	mu      sync.Mutex
	events  []*models.ChangeEvent
	legacy  []*models.LegacyEvent
	err     error
	updates chan *models.ChangeEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{updates: make(chan *models.ChangeEvent, 100)}
}

func (s *recordingSink) Publish(event *models.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	s.updates <- event
	return nil
}

func (s *recordingSink) PublishLegacy(event *models.LegacyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacy = append(s.legacy, event)
	return nil
}

func (s *recordingSink) received() []*models.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ChangeEvent(nil), s.events...)
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestMonitor(t *testing.T, cfg Config, src *fakeSource, clk clock.Clock, transformer *processor.Transformer, sinks ...Sink) *Monitor {
	t.Helper()
	logger := discardLogger()
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	engine := diff.NewEngine(snapshot.NewStore(), clk, logger)
	m, err := New(cfg, src, engine, transformer, sinks, clk, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func record(id, status string) models.Record {
	return models.Record{ID: id, Fields: map[string]interface{}{"Status": status}}
}

func TestNew_RequiresTables(t *testing.T) {
	_, err := New(Config{Interval: time.Second}, newFakeSource(), nil, nil, nil, nil, discardLogger())
	if !errors.Is(err, ErrNoTables) {
		t.Fatalf("err = %v, want ErrNoTables", err)
	}
}

func TestRunOnce_DetectsUpdates(t *testing.T) {
	src := newFakeSource()
	sink := newRecordingSink()
	m := newTestMonitor(t, Config{Tables: []string{"Tasks"}}, src, testclock.NewClock(epoch), nil, sink)
	ctx := context.Background()

	src.set("Tasks", record("r1", "Todo"))
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if got := sink.received(); len(got) != 0 {
		t.Fatalf("first pass delivered %d events", len(got))
	}

	src.set("Tasks", record("r1", "Done"))
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	want := []*models.ChangeEvent{{
		Type:          models.Update,
		Table:         "Tasks",
		Timestamp:     epoch,
		RecordID:      "r1",
		FieldName:     "Status",
		PreviousValue: "Todo",
		NewValue:      "Done",
	}}
	if diff := cmp.Diff(want, sink.received()); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}

	status, ok := m.TableStatus("Tasks")
	if !ok || status.Polls != 2 || status.Events != 1 || status.Records != 1 || !status.Seeded {
		t.Fatalf("unexpected status: %+v", status)
	}
}

// TestRunOnce_FetchErrorLeavesSnapshot checks that a failed fetch neither
// emits events nor disturbs the snapshot the next poll is compared against.
func TestRunOnce_FetchErrorLeavesSnapshot(t *testing.T) {
	src := newFakeSource()
	sink := newRecordingSink()
	m := newTestMonitor(t, Config{Tables: []string{"A", "B"}}, src, testclock.NewClock(epoch), nil, sink)
	ctx := context.Background()

	src.set("A", record("r1", "one"))
	src.set("B", record("x", "b"))
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	src.fail("A", errors.New("connection reset"))
	src.set("B", record("x", "b2"))
	err := m.RunOnce(ctx)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
	if got := sink.received(); len(got) != 1 || got[0].Table != "B" {
		t.Fatalf("the healthy table should still be diffed, got %+v", got)
	}
	status, _ := m.TableStatus("A")
	if status.LastError == "" {
		t.Fatal("fetch error not recorded in status")
	}

	src.fail("A", nil)
	src.set("A", record("r1", "two"))
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	got := sink.received()
	if len(got) != 2 || got[1].PreviousValue != "one" || got[1].NewValue != "two" {
		t.Fatalf("expected one -> two against the last good snapshot, got %+v", got)
	}
	status, _ = m.TableStatus("A")
	if status.LastError != "" {
		t.Fatalf("LastError not cleared: %q", status.LastError)
	}
}

func TestRunOnce_FirstPassAfterFailedFirstFetch(t *testing.T) {
	src := newFakeSource()
	sink := newRecordingSink()
	m := newTestMonitor(t, Config{Tables: []string{"A"}}, src, testclock.NewClock(epoch), nil, sink)
	ctx := context.Background()

	src.fail("A", errors.New("boom"))
	_ = m.RunOnce(ctx)
	src.fail("A", nil)
	src.set("A", record("r1", "one"))
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if got := sink.received(); len(got) != 0 {
		t.Fatalf("the first successful fetch must only seed, got %+v", got)
	}
}

func TestRunOnce_SinkErrorPropagates(t *testing.T) {
	src := newFakeSource()
	sink := newRecordingSink()
	m := newTestMonitor(t, Config{Tables: []string{"A"}}, src, testclock.NewClock(epoch), nil, sink)
	ctx := context.Background()

	src.set("A", record("r1", "one"))
	_ = m.RunOnce(ctx)

	boom := errors.New("sink down")
	sink.err = boom
	src.set("A", record("r1", "two"), record("r2", "new"))
	if err := m.RunOnce(ctx); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the sink error", err)
	}
}

func TestRunOnce_OrderAndLegacy(t *testing.T) {
	src := newFakeSource()
	sink := newRecordingSink()
	m := newTestMonitor(t, Config{Tables: []string{"A"}, LegacyEvents: true}, src, testclock.NewClock(epoch), nil, sink)
	ctx := context.Background()

	src.set("A", record("a", "1"), record("b", "1"))
	_ = m.RunOnce(ctx)
	src.set("A", record("b", "2"), record("c", "1"))
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	var kinds []models.EventType
	for _, ev := range sink.received() {
		kinds = append(kinds, ev.Type)
	}
	if diff := cmp.Diff([]models.EventType{models.Create, models.Delete, models.Update}, kinds); diff != "" {
		t.Fatalf("unexpected event order (-want +got):\n%s", diff)
	}
	want := []*models.LegacyEvent{{
		Date:          epoch,
		TableName:     "A",
		FieldName:     "Status",
		PreviousValue: "1",
		NewValue:      "2",
		RecordID:      "b",
	}}
	if diff := cmp.Diff(want, sink.legacy); diff != "" {
		t.Fatalf("unexpected legacy events (-want +got):\n%s", diff)
	}
}

func TestRunOnce_TransformerRejects(t *testing.T) {
	tr, err := processor.NewTransformer(&processor.Config{
		Enabled: true,
		Rules:   []processor.Rule{{DropTypes: []string{"create"}}},
	}, discardLogger(), nil)
	if err != nil {
		t.Fatalf("NewTransformer failed: %v", err)
	}
	src := newFakeSource()
	sink := newRecordingSink()
	m := newTestMonitor(t, Config{Tables: []string{"A"}}, src, testclock.NewClock(epoch), tr, sink)
	ctx := context.Background()

	src.set("A")
	_ = m.RunOnce(ctx)
	src.set("A", record("a", "1"))
	if err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if got := sink.received(); len(got) != 0 {
		t.Fatalf("rejected create was delivered: %+v", got)
	}
	if ids := m.engine.Store().RecordIDs("A"); len(ids) != 1 {
		t.Fatalf("snapshot should still track the new record, got %v", ids)
	}
}

func TestRunOnce_Cancelled(t *testing.T) {
	src := newFakeSource()
	m := newTestMonitor(t, Config{Tables: []string{"A"}}, src, testclock.NewClock(epoch), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if status, _ := m.TableStatus("A"); status.Polls != 0 {
		t.Fatalf("cancelled cycle polled the table: %+v", status)
	}
}

// TestRun_Trigger starts the loop with a long interval and checks that a
// trigger re-polls the table before the next scheduled cycle.
func TestRun_Trigger(t *testing.T) {
	src := newFakeSource()
	sink := newRecordingSink()
	m := newTestMonitor(t, Config{Tables: []string{"A"}}, src, clock.WallClock, nil, sink)

	src.set("A", record("r1", "one"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-src.fetches:
	case <-time.After(5 * time.Second):
		t.Fatal("initial poll did not happen")
	}

	src.set("A", record("r1", "two"))
	m.Trigger("A")
	m.Trigger("unknown")

	select {
	case ev := <-sink.updates:
		if ev.NewValue != "two" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("triggered poll did not deliver an event")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestStatus_ConfigOrder(t *testing.T) {
	m := newTestMonitor(t, Config{Tables: []string{"b", "a"}}, newFakeSource(), testclock.NewClock(epoch), nil)
	var got []string
	for _, s := range m.Status() {
		got = append(got, s.Table)
	}
	if diff := cmp.Diff([]string{"b", "a"}, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}
