package database

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/iliyamo/marketplace-auth/internal/database/migrations"
)

func TestSplitStatements(t *testing.T) {
	body := `-- leading comment
CREATE TABLE a (id INT);

CREATE TABLE b (
    id INT -- trailing note
);
`
	got := splitStatements(body)
	if len(got) != 2 {
		t.Fatalf("got %d statements: %q", len(got), got)
	}
	if !strings.HasPrefix(got[0], "CREATE TABLE a") {
		t.Errorf("first = %q", got[0])
	}
}

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("SELECT 2;")},
		"000001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"000001_a.down.sql": {Data: []byte("SELECT 0;")},
		"README":            {Data: []byte("ignored")},
	}
	got, err := loadMigrations(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].version != "000001" || got[1].name != "000002_b" {
		t.Fatalf("migrations = %+v", got)
	}
}

func TestEmbeddedSchema(t *testing.T) {
	got, err := loadMigrations(migrations.FS)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 {
		t.Fatal("no embedded migrations")
	}
	var all strings.Builder
	for _, m := range got {
		for _, s := range m.stmts {
			all.WriteString(s)
		}
	}
	for _, table := range []string{"accounts", "refresh_tokens", "customers", "providers", "businesses", "business_locations"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("schema lacks table %s", table)
		}
	}
}
