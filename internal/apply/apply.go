// Package apply executes the additive subset of a migration plan against a
// target database.
//
// Statements run individually, not in one transaction: a failing ADD COLUMN
// must not abort the remaining changes (and on PostgreSQL an error would
// poison the enclosing transaction). Each attempted statement produces a
// Result so callers can report exactly what happened.
//
// MANUAL-level differences (extra tables, extra columns) are never touched.
package apply

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/dbsync/internal/dburl"
	"github.com/roach88/dbsync/internal/diff"
	"github.com/roach88/dbsync/internal/schema"
)

// Result records the outcome of one attempted schema change.
type Result struct {
	Kind    string `json:"kind"`             // create_table, add_column, create_index, add_foreign_key, add_unique, add_check, realign_sequence
	Object  string `json:"object"`           // e.g. "users" or "users.last_login"
	SQL     string `json:"sql,omitempty"`    // statement that was (or would be) executed
	Skipped string `json:"reason,omitempty"` // non-empty when the change was not attempted
	Err     error  `json:"-"`
}

// Failed reports whether the change was attempted and errored.
func (r Result) Failed() bool { return r.Err != nil }

// Applier applies plans to one target database.
type Applier struct {
	db      *sql.DB
	dialect dburl.Dialect
	log     *slog.Logger
}

// New creates an Applier. A nil logger falls back to slog.Default().
func New(db *sql.DB, dialect dburl.Dialect, log *slog.Logger) *Applier {
	if log == nil {
		log = slog.Default()
	}
	return &Applier{db: db, dialect: dialect, log: log}
}

// Apply executes the safe changes from the plan. The source schema supplies
// table shapes for CREATE TABLE and column definitions for ADD COLUMN.
//
// Per-statement failures are recorded and logged, not returned as an error;
// the returned error covers only malformed input (a plan referencing tables
// the source schema does not have).
func (a *Applier) Apply(ctx context.Context, source *schema.Schema, plan *diff.Plan) ([]Result, error) {
	var results []Result

	for _, name := range createOrder(source, plan.CreateTables) {
		table, ok := source.Table(name)
		if !ok {
			return results, fmt.Errorf("plan references unknown source table %q", name)
		}

		results = append(results, a.exec(ctx, Result{
			Kind:   "create_table",
			Object: name,
			SQL:    createTableSQL(table),
		}))

		// New tables also get their source indexes.
		for _, idx := range table.Indexes {
			results = append(results, a.exec(ctx, Result{
				Kind:   "create_index",
				Object: name + "." + idx.Name,
				SQL:    createIndexSQL(name, idx),
			}))
		}
	}

	for _, add := range plan.AddColumns {
		results = append(results, a.exec(ctx, Result{
			Kind:   "add_column",
			Object: add.Table + "." + add.Column.Name,
			SQL:    AddColumnSQL(a.dialect, add.Table, add.Column),
		}))
	}

	for _, add := range plan.AddIndexes {
		results = append(results, a.exec(ctx, Result{
			Kind:   "create_index",
			Object: add.Table + "." + add.Index.Name,
			SQL:    createIndexSQL(add.Table, add.Index),
		}))
	}

	for _, add := range plan.AddForeignKeys {
		results = append(results, a.constraint(ctx, Result{
			Kind:   "add_foreign_key",
			Object: add.Table,
			SQL:    addForeignKeySQL(add.Table, add.ForeignKey),
		}))
	}

	for _, add := range plan.AddUniques {
		results = append(results, a.constraint(ctx, Result{
			Kind:   "add_unique",
			Object: add.Table,
			SQL:    addUniqueSQL(add.Table, add.Unique),
		}))
	}

	for _, add := range plan.AddChecks {
		results = append(results, a.constraint(ctx, Result{
			Kind:   "add_check",
			Object: add.Table,
			SQL:    addCheckSQL(add.Table, add.Check),
		}))
	}

	return results, nil
}

// createOrder arranges the tables to create so referenced tables come first.
// Unknown names keep their plan position and fail later with a clear error.
func createOrder(source *schema.Schema, names []string) []string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	ordered, _ := schema.TableOrder(source)
	var out []string
	for _, n := range ordered {
		if want[n] {
			out = append(out, n)
			delete(want, n)
		}
	}
	for _, n := range names {
		if want[n] {
			out = append(out, n)
		}
	}
	return out
}

// exec attempts one statement and records the outcome.
func (a *Applier) exec(ctx context.Context, r Result) Result {
	if _, err := a.db.ExecContext(ctx, r.SQL); err != nil {
		r.Err = err
		a.log.Warn("schema change failed", "kind", r.Kind, "object", r.Object, "error", err)
		return r
	}
	a.log.Info("schema change applied", "kind", r.Kind, "object", r.Object)
	return r
}

// constraint attempts an ALTER TABLE ADD CONSTRAINT statement. SQLite cannot
// add table constraints after creation, so the change is skipped there and
// surfaced for the operator.
func (a *Applier) constraint(ctx context.Context, r Result) Result {
	if a.dialect == dburl.DialectSQLite {
		r.Skipped = "sqlite does not support ALTER TABLE ADD CONSTRAINT; recreate the table manually"
		a.log.Warn("schema change skipped", "kind", r.Kind, "object", r.Object, "reason", r.Skipped)
		return r
	}
	return a.exec(ctx, r)
}
