package migrate

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/example/staybook/internal/db"
	"github.com/sirupsen/logrus"
)

//go:embed *.sql
var files embed.FS

// Up applies every embedded *.sql file not yet recorded in schema_migrations, in
// name order, each in its own transaction.
func Up(ctx context.Context, d *db.DB, log *logrus.Logger) ([]string, error) {
	names, err := pending()
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		var done bool
		if err := d.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, name).Scan(&done); err != nil {
			return applied, err
		}
		if done {
			continue
		}
		b, err := files.ReadFile(name)
		if err != nil {
			return applied, err
		}
		err = d.InTx(ctx, func(q db.Querier) error {
			if _, err := q.Exec(ctx, string(b)); err != nil {
				return err
			}
			_, err := q.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		if log != nil {
			log.WithField("version", name).Info("migration applied")
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func pending() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
