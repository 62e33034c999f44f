package database

import (
	"strings"
	"testing"

	"github.com/iliyamo/marketplace-auth/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.Config{DBUser: "app", DBPass: "secret", DBHost: "db", DBPort: "3306", DBName: "auth"})
	for _, want := range []string{"app:secret@tcp(db:3306)/auth", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q lacks %q", dsn, want)
		}
	}
}
