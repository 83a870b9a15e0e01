package apply

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dbsync/internal/dburl"
	"github.com/roach88/dbsync/internal/diff"
	"github.com/roach88/dbsync/internal/schema"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	return db
}

func mustExec(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, "statement: %s", stmt)
	}
}

func inspect(t *testing.T, db *sql.DB) *schema.Schema {
	t.Helper()
	in, err := schema.NewInspector(db, dburl.DialectSQLite)
	require.NoError(t, err)
	s, err := in.Inspect(context.Background())
	require.NoError(t, err)
	return s
}

func TestApply_CreatesMissingTableWithIndexes(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, city TEXT)`,
		`CREATE INDEX idx_users_city ON users(city)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			user_id INTEGER REFERENCES users(id),
			amount REAL
		)`,
	)

	srcSchema := inspect(t, source)
	plan := diff.Analyze(srcSchema, inspect(t, target))

	results, err := New(target, dburl.DialectSQLite, nil).Apply(context.Background(), srcSchema, plan)
	require.NoError(t, err)
	for _, r := range results {
		assert.NoError(t, r.Err, "change %s %s", r.Kind, r.Object)
	}

	got := inspect(t, target)
	assert.Equal(t, []string{"orders", "users"}, got.TableNames())

	users, _ := got.Table("users")
	assert.Equal(t, []string{"id", "email", "city"}, users.ColumnNames())
	assert.Equal(t, []string{"id"}, users.PrimaryKey)
	require.Len(t, users.Indexes, 1)
	assert.Equal(t, "idx_users_city", users.Indexes[0].Name)

	orders, _ := got.Table("orders")
	require.Len(t, orders.ForeignKeys, 1)
	assert.Equal(t, "users", orders.ForeignKeys[0].RefTable)
}

func TestApply_AddsMissingColumns(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source, `CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		email TEXT,
		last_login TIMESTAMP,
		is_active BOOLEAN NOT NULL DEFAULT 1
	)`)
	mustExec(t, target,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)`,
		`INSERT INTO users (id, email) VALUES (1, 'a@test.com')`,
	)

	srcSchema := inspect(t, source)
	plan := diff.Analyze(srcSchema, inspect(t, target))

	results, err := New(target, dburl.DialectSQLite, nil).Apply(context.Background(), srcSchema, plan)
	require.NoError(t, err)
	for _, r := range results {
		assert.NoError(t, r.Err, "change %s %s", r.Kind, r.Object)
	}

	users, _ := inspect(t, target).Table("users")
	assert.Equal(t, []string{"id", "email", "last_login", "is_active"}, users.ColumnNames())

	// Existing row got the carried default.
	var active int
	require.NoError(t, target.QueryRow("SELECT is_active FROM users WHERE id = 1").Scan(&active))
	assert.Equal(t, 1, active)
}

func TestApply_NeverDropsExtras(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source, `CREATE TABLE users (id INTEGER PRIMARY KEY)`)
	mustExec(t, target,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, legacy_code TEXT)`,
		`CREATE TABLE audit_log (id INTEGER PRIMARY KEY, message TEXT)`,
	)

	srcSchema := inspect(t, source)
	plan := diff.Analyze(srcSchema, inspect(t, target))
	require.True(t, plan.HasManual())

	_, err := New(target, dburl.DialectSQLite, nil).Apply(context.Background(), srcSchema, plan)
	require.NoError(t, err)

	got := inspect(t, target)
	assert.Equal(t, []string{"audit_log", "users"}, got.TableNames())
	users, _ := got.Table("users")
	_, hasLegacy := users.Column("legacy_code")
	assert.True(t, hasLegacy)
}

func TestApply_ConstraintsSkippedOnSQLite(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT UNIQUE)`,
	)
	mustExec(t, target,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)`,
	)

	srcSchema := inspect(t, source)
	plan := diff.Analyze(srcSchema, inspect(t, target))
	require.Len(t, plan.AddUniques, 1)

	results, err := New(target, dburl.DialectSQLite, nil).Apply(context.Background(), srcSchema, plan)
	require.NoError(t, err)

	var skipped int
	for _, r := range results {
		if r.Skipped != "" {
			skipped++
			assert.Equal(t, "add_unique", r.Kind)
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestApply_Idempotent(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, city TEXT)`,
		`CREATE INDEX idx_users_city ON users(city)`,
	)

	srcSchema := inspect(t, source)

	for i := 0; i < 2; i++ {
		plan := diff.Analyze(srcSchema, inspect(t, target))
		results, err := New(target, dburl.DialectSQLite, nil).Apply(context.Background(), srcSchema, plan)
		require.NoError(t, err)
		for _, r := range results {
			assert.NoError(t, r.Err, "pass %d: %s %s", i, r.Kind, r.Object)
		}
	}

	plan := diff.Analyze(srcSchema, inspect(t, target))
	assert.True(t, plan.Empty())
}

func TestApply_UnknownSourceTable(t *testing.T) {
	target := openTestDB(t, "target.db")

	plan := &diff.Plan{CreateTables: []string{"ghost"}}
	_, err := New(target, dburl.DialectSQLite, nil).Apply(context.Background(), schema.NewSchema(), plan)
	assert.Error(t, err)
}

func TestRealignSequences_SQLite(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT)`,
		`INSERT INTO users (id, email) VALUES (7, 'g@test.com')`,
	)
	mustExec(t, target,
		`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT)`,
		`INSERT INTO users (id, email) VALUES (3, 'c@test.com')`,
	)

	sch := inspect(t, source)
	results := New(target, dburl.DialectSQLite, nil).RealignSequences(context.Background(), source, sch)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	// Next insert must not collide with the source's highest id.
	mustExec(t, target, `INSERT INTO users (email) VALUES ('h@test.com')`)
	var id int
	require.NoError(t, target.QueryRow("SELECT id FROM users WHERE email = 'h@test.com'").Scan(&id))
	assert.Equal(t, 8, id)
}
