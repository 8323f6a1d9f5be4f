package main

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"table-monitor/internal/source"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestMissingPrivileges(t *testing.T) {
	required := []string{"REPLICATION SLAVE", "REPLICATION CLIENT", "SELECT"}
	tests := []struct {
		grants string
		want   []string
	}{
		{"GRANT SELECT, REPLICATION SLAVE, REPLICATION CLIENT ON *.* TO `cdc`@`%`", nil},
		{"GRANT ALL PRIVILEGES ON *.* TO `root`@`%`", nil},
		{"GRANT select ON app.* TO `ro`@`%`", []string{"REPLICATION SLAVE", "REPLICATION CLIENT"}},
		{"GRANT USAGE ON *.* TO `nobody`@`%`", required},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, missingPrivileges(tt.grants, required)); diff != "" {
			t.Errorf("missingPrivileges(%q) (-want +got):\n%s", tt.grants, diff)
		}
	}
}

func TestBinlogEnabled(t *testing.T) {
	for value, want := range map[string]bool{"ON": true, "on": true, "1": true, "OFF": false, "0": false, "": false} {
		if got := binlogEnabled(value); got != want {
			t.Errorf("binlogEnabled(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestSourceChecker_SQLite(t *testing.T) {
	src, err := source.NewSQLSource(source.TypeSQLite, ":memory:", "id", discardLogger())
	if err != nil {
		t.Fatalf("NewSQLSource failed: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	if _, err := src.DB().ExecContext(ctx, `CREATE TABLE tasks (id TEXT PRIMARY KEY, status TEXT)`); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := NewSourceChecker(src, []string{"tasks"}, false, discardLogger()).Check(ctx); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if err := NewSourceChecker(src, []string{"tasks", "missing"}, false, discardLogger()).Check(ctx); err == nil {
		t.Fatal("expected an error for a missing table")
	}
}

func TestSourceChecker_Airtable(t *testing.T) {
	src := source.NewAirtableSource(source.AirtableConfig{BaseID: "app", APIKey: "key"}, discardLogger())
	if err := NewSourceChecker(src, []string{"Tasks"}, false, discardLogger()).Check(context.Background()); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
}
