package infra

import (
	"strings"
	"testing"
)

func TestMigrationFilesAreEmbeddedInOrder(t *testing.T) {
	names, err := MigrationFiles()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) == 0 || names[0] != "migrations/001_schema.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}

	body, err := migrations.ReadFile(names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"accounts", "transactions", "transfers", "categories"} {
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("schema is missing table %s", table)
		}
	}
	if !strings.Contains(string(body), "WHERE client_request_id IS NOT NULL") {
		t.Fatal("client request ids must be unique per scope only when present")
	}
}
