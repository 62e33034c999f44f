package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/iliyamo/marketplace-auth/internal/database/migrations"
)

// Migrator applies the embedded *.up.sql files in version order and
// records each applied version in schema_migrations.
type Migrator struct {
	db    *sql.DB
	files fs.FS
}

// NewMigrator returns a Migrator over the embedded gateway schema.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, files: migrations.FS}
}

type migration struct {
	version string
	name    string
	stmts   []string
}

// Migrate runs every pending migration and returns the versions it applied.
func (m *Migrator) Migrate(ctx context.Context) ([]string, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(64) NOT NULL PRIMARY KEY,
			applied_at DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	pending, err := loadMigrations(m.files)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, mg := range pending {
		if applied[mg.version] {
			continue
		}
		if err := m.apply(ctx, mg); err != nil {
			return done, fmt.Errorf("migration %s: %w", mg.name, err)
		}
		done = append(done, mg.version)
	}
	return done, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

// MySQL commits DDL implicitly, so a failed statement can leave earlier
// statements of the same file applied.  Every file therefore uses
// IF NOT EXISTS and can be re-run.
func (m *Migrator) apply(ctx context.Context, mg migration) error {
	for _, stmt := range mg.stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES (?)`, mg.version)
	return err
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, migration{
			version: version,
			name:    strings.TrimSuffix(name, ".up.sql"),
			stmts:   splitStatements(string(body)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// splitStatements breaks a file on statement-terminating semicolons.  The
// driver runs one statement per Exec unless multiStatements is enabled.
func splitStatements(body string) []string {
	var out []string
	for _, part := range strings.Split(body, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
