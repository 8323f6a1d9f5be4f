package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
monitor:
  tables: [Tasks, Projects]
source:
  type: Airtable
  airtable:
    base_id: appXYZ
    api_key: key
`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if diff := cmp.Diff([]string{"Tasks", "Projects"}, cfg.Monitor.Tables); diff != "" {
		t.Fatalf("unexpected tables (-want +got):\n%s", diff)
	}
	if cfg.Monitor.Interval != 60*time.Second {
		t.Errorf("Interval = %v, want 60s", cfg.Monitor.Interval)
	}
	if cfg.Source.Type != "airtable" {
		t.Errorf("Type = %q, want airtable", cfg.Source.Type)
	}
	if cfg.Source.IDColumn != "id" {
		t.Errorf("IDColumn = %q, want id", cfg.Source.IDColumn)
	}
	if cfg.Source.Airtable.Endpoint != "https://api.airtable.com/v0" || cfg.Source.Airtable.PageSize != 100 {
		t.Errorf("unexpected airtable defaults: %+v", cfg.Source.Airtable)
	}
	if cfg.NATS.ReconnectWait != 2*time.Second {
		t.Errorf("ReconnectWait = %v, want 2s", cfg.NATS.ReconnectWait)
	}
	if cfg.Binlog.Flavor != "mysql" {
		t.Errorf("Flavor = %q, want mysql", cfg.Binlog.Flavor)
	}

	src := cfg.SourceConfig()
	if src.Airtable.BaseID != "appXYZ" || src.Airtable.APIKey != "key" || src.IDColumn != "id" {
		t.Errorf("unexpected source config: %+v", src)
	}
}

func TestParseConfig_Durations(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
monitor:
  tables: [orders]
  interval: 15s
  table_interval: 500ms
  max_interval: 5m
  legacy_events: true
source:
  type: sqlite
  dsn: file:test.db
`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Monitor.Interval != 15*time.Second || cfg.Monitor.TableInterval != 500*time.Millisecond || cfg.Monitor.MaxInterval != 5*time.Minute {
		t.Fatalf("unexpected intervals: %+v", cfg.Monitor)
	}
	if !cfg.Monitor.LegacyEvents {
		t.Fatal("LegacyEvents not set")
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{
			name: "no tables",
			yaml: "source: {type: sqlite, dsn: x}",
			want: ErrMissingTables,
		},
		{
			name: "no source type",
			yaml: "monitor: {tables: [a]}",
			want: ErrMissingSourceType,
		},
		{
			name: "sql source without dsn",
			yaml: "monitor: {tables: [a]}\nsource: {type: mysql}",
			want: ErrMissingCredentials,
		},
		{
			name: "airtable without key",
			yaml: "monitor: {tables: [a]}\nsource: {type: airtable, airtable: {base_id: app}}",
			want: ErrMissingCredentials,
		},
		{
			name: "binlog without host",
			yaml: "monitor: {tables: [a]}\nsource: {type: mysql, dsn: x}\nbinlog: {enabled: true, server_id: 7}",
			want: ErrMissingCredentials,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown source":       "monitor: {tables: [a]}\nsource: {type: oracle, dsn: x}",
		"empty table name":     "monitor: {tables: [' ']}\nsource: {type: sqlite, dsn: x}",
		"negative interval":    "monitor: {tables: [a], interval: -1s}\nsource: {type: sqlite, dsn: x}",
		"binlog on sqlite":     "monitor: {tables: [a]}\nsource: {type: sqlite, dsn: x}\nbinlog: {enabled: true, host: h, user: u, server_id: 1}",
		"binlog without id":    "monitor: {tables: [a]}\nsource: {type: mysql, dsn: x}\nbinlog: {enabled: true, host: h, user: u}",
		"bad processor rule":   "monitor: {tables: [a]}\nsource: {type: sqlite, dsn: x}\nprocessor: {enabled: true, rules: [{drop_types: [insert]}]}",
		"malformed yaml":       "monitor: [",
		"bad duration literal": "monitor: {tables: [a], interval: soon}\nsource: {type: sqlite, dsn: x}",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(yaml)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "monitor:\n  tables: [Tasks]\nsource:\n  type: postgres\n  dsn: postgres://localhost/app\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Source.DSN != "postgres://localhost/app" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
