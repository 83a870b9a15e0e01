package datasync

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dbsync/internal/dburl"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
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

// prepareUsers seeds the canonical source/target pair: the source holds the
// fresh rows, the target holds production edits, gaps, and one row the
// source does not know about under a colliding id.
func prepareUsers(t *testing.T) (source, target *sql.DB) {
	source = openTestDB(t, "source.db")
	target = openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, name TEXT NOT NULL, age INTEGER, city TEXT)`,
		`INSERT INTO users VALUES
			(1, 'a@test.com', 'Alice', 25, 'London'),
			(2, 'b@test.com', 'Bob', 30, 'Paris'),
			(3, 'd@test.com', 'David', 40, 'Berlin'),
			(4, 'e@test.com', 'Eve', 35, 'Rome')`,
	)
	mustExec(t, target,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, name TEXT NOT NULL, age INTEGER, city TEXT)`,
		`INSERT INTO users VALUES
			(1, 'a@test.com', 'Alice PROD', 25, 'London PROD'),
			(2, 'b@test.com', 'Bob PROD', NULL, NULL),
			(3, 'c@test.com', 'Charlie', 30, 'Madrid')`,
	)
	return source, target
}

func newTestSyncer(source, target *sql.DB) *Syncer {
	return New(source, dburl.DialectSQLite, target, dburl.DialectSQLite, nil)
}

type userRow struct {
	email string
	name  string
	age   sql.NullInt64
	city  sql.NullString
}

func readUsers(t *testing.T, db *sql.DB) map[int]userRow {
	t.Helper()
	rows, err := db.Query("SELECT id, email, name, age, city FROM users ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[int]userRow)
	for rows.Next() {
		var id int
		var r userRow
		require.NoError(t, rows.Scan(&id, &r.email, &r.name, &r.age, &r.city))
		out[id] = r
	}
	require.NoError(t, rows.Err())
	return out
}

func syncWith(t *testing.T, source, target *sql.DB, strategy Strategy) *Stats {
	t.Helper()
	opts := DefaultOptions()
	opts.Strategy = strategy
	stats, err := newTestSyncer(source, target).Sync(context.Background(), opts)
	require.NoError(t, err)
	return stats
}

func TestSync_Skip(t *testing.T) {
	source, target := prepareUsers(t)

	stats := syncWith(t, source, target, StrategySkip)

	users := readUsers(t, target)
	require.Len(t, users, 4)

	// Existing rows stay as they are, NULLs included.
	assert.Equal(t, "Alice PROD", users[1].name)
	assert.Equal(t, "London PROD", users[1].city.String)
	assert.Equal(t, "Bob PROD", users[2].name)
	assert.False(t, users[2].age.Valid)
	assert.False(t, users[2].city.Valid)
	assert.Equal(t, "Charlie", users[3].name)

	// The row missing from the target is inserted.
	assert.Equal(t, "Eve", users[4].name)
	assert.Equal(t, "Rome", users[4].city.String)

	assert.Equal(t, int64(1), stats.Inserted)
	assert.Equal(t, int64(0), stats.Updated)
	assert.Equal(t, int64(3), stats.Skipped)
	assert.NotEmpty(t, stats.RunID)
}

func TestSync_Overwrite(t *testing.T) {
	source, target := prepareUsers(t)

	stats := syncWith(t, source, target, StrategyOverwrite)

	users := readUsers(t, target)
	require.Len(t, users, 4)

	assert.Equal(t, "Alice", users[1].name)
	assert.Equal(t, "London", users[1].city.String)
	assert.Equal(t, "Bob", users[2].name)
	assert.Equal(t, int64(30), users[2].age.Int64)
	assert.Equal(t, "Paris", users[2].city.String)

	// The colliding id is taken over by the source row.
	assert.Equal(t, "David", users[3].name)
	assert.Equal(t, "d@test.com", users[3].email)
	assert.Equal(t, "Berlin", users[3].city.String)

	assert.Equal(t, "Eve", users[4].name)

	assert.Equal(t, int64(1), stats.Inserted)
	assert.Equal(t, int64(3), stats.Updated)
}

func TestSync_Merge(t *testing.T) {
	source, target := prepareUsers(t)

	syncWith(t, source, target, StrategyMerge)

	users := readUsers(t, target)
	require.Len(t, users, 4)

	// Fully populated rows keep their target values.
	assert.Equal(t, "Alice PROD", users[1].name)
	assert.Equal(t, "London PROD", users[1].city.String)

	// NULL holes are filled from the source, populated fields kept.
	assert.Equal(t, "Bob PROD", users[2].name)
	assert.Equal(t, int64(30), users[2].age.Int64)
	assert.Equal(t, "Paris", users[2].city.String)

	// Row 3 has no NULLs, so nothing from David leaks in.
	assert.Equal(t, "Charlie", users[3].name)
	assert.Equal(t, "Madrid", users[3].city.String)

	assert.Equal(t, "Eve", users[4].name)
}

func TestSync_InvalidStrategy(t *testing.T) {
	source, target := prepareUsers(t)

	opts := DefaultOptions()
	opts.Strategy = Strategy("upsert")
	_, err := newTestSyncer(source, target).Sync(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert")
}

func TestSync_CreatesMissingColumns(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, is_active BOOLEAN)`,
		`INSERT INTO users VALUES (1, 'a@test.com', 1)`,
	)
	mustExec(t, target,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)`,
	)

	syncWith(t, source, target, StrategySkip)

	var active sql.NullInt64
	require.NoError(t, target.QueryRow("SELECT is_active FROM users WHERE id = 1").Scan(&active))
	require.True(t, active.Valid)
	assert.Equal(t, int64(1), active.Int64)
}

func TestSync_MissingColumnsLeftAloneWhenDisabled(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, is_active BOOLEAN)`,
		`INSERT INTO users VALUES (1, 'a@test.com', 1)`,
	)
	mustExec(t, target,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)`,
	)

	opts := DefaultOptions()
	opts.CreateMissingColumns = false
	_, err := newTestSyncer(source, target).Sync(context.Background(), opts)
	require.NoError(t, err)

	var email string
	require.NoError(t, target.QueryRow("SELECT email FROM users WHERE id = 1").Scan(&email))
	assert.Equal(t, "a@test.com", email)

	var count int
	require.NoError(t, target.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('users') WHERE name = 'is_active'").Scan(&count))
	assert.Zero(t, count)
}

func TestSync_StringifiesIntoTextualColumns(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	// age drifted from INTEGER to TEXT on the target.
	mustExec(t, source,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)`,
		`INSERT INTO users VALUES (1, 'Alice', 25)`,
	)
	mustExec(t, target,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age TEXT)`,
	)

	syncWith(t, source, target, StrategyOverwrite)

	var age string
	require.NoError(t, target.QueryRow("SELECT age FROM users WHERE id = 1").Scan(&age))
	assert.Equal(t, "25", age)
}

func TestSync_ForeignKeyOrder(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	ddl := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id),
			amount REAL
		)`,
	}
	mustExec(t, source, ddl...)
	mustExec(t, target, ddl...)
	mustExec(t, source,
		`INSERT INTO users VALUES (1, 'a@test.com')`,
		`INSERT INTO orders VALUES (10, 1, 99.5)`,
	)

	// Iteration over map order must not matter: users rows have to land
	// before orders rows or the FK rejects the insert.
	stats := syncWith(t, source, target, StrategySkip)

	assert.Equal(t, []string{"users", "orders"}, stats.Tables)

	var n int
	require.NoError(t, target.QueryRow("SELECT COUNT(*) FROM orders").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSync_SkipsTablesWithoutPrimaryKey(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE metrics (name TEXT, value REAL)`,
		`INSERT INTO metrics VALUES ('cpu', 0.5)`,
	)
	mustExec(t, target, `CREATE TABLE metrics (name TEXT, value REAL)`)

	stats := syncWith(t, source, target, StrategySkip)

	assert.Empty(t, stats.Tables)
	var n int
	require.NoError(t, target.QueryRow("SELECT COUNT(*) FROM metrics").Scan(&n))
	assert.Zero(t, n)
}

func TestSync_SkipsTablesMissingInTarget(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source,
		`CREATE TABLE only_here (id INTEGER PRIMARY KEY)`,
		`INSERT INTO only_here VALUES (1)`,
	)

	stats := syncWith(t, source, target, StrategySkip)
	assert.Empty(t, stats.Tables)
}

func TestSync_IncludeExclude(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	ddl := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT)`,
		`CREATE TABLE audit_log (id INTEGER PRIMARY KEY, message TEXT)`,
	}
	mustExec(t, source, ddl...)
	mustExec(t, target, ddl...)
	mustExec(t, source,
		`INSERT INTO users VALUES (1, 'a@test.com')`,
		`INSERT INTO audit_log VALUES (1, 'created')`,
	)

	opts := DefaultOptions()
	opts.Exclude = []string{"audit_log"}
	stats, err := newTestSyncer(source, target).Sync(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"users"}, stats.Tables)
	var n int
	require.NoError(t, target.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&n))
	assert.Zero(t, n)
}

func TestSync_Batching(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	mustExec(t, source, `CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT)`)
	mustExec(t, target, `CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT)`)
	for i := 1; i <= 25; i++ {
		mustExec(t, source, fmt.Sprintf(`INSERT INTO items VALUES (%d, 'item-%d')`, i, i))
	}

	opts := DefaultOptions()
	opts.BatchSize = 10
	stats, err := newTestSyncer(source, target).Sync(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, int64(25), stats.Inserted)
	var n int
	require.NoError(t, target.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	assert.Equal(t, 25, n)
}

func TestSync_RunTwiceIsStable(t *testing.T) {
	source, target := prepareUsers(t)

	syncWith(t, source, target, StrategyOverwrite)
	second := syncWith(t, source, target, StrategyOverwrite)

	// The second run rewrites the same values; nothing new appears.
	assert.Equal(t, int64(0), second.Inserted)
	users := readUsers(t, target)
	assert.Len(t, users, 4)
}

func TestSync_CyclicTablesRestoreConstraintsBeforeCommit(t *testing.T) {
	source := openTestDB(t, "source.db")
	target := openTestDB(t, "target.db")

	cyclicSchema := []string{
		`CREATE TABLE teams (id INTEGER PRIMARY KEY, lead_id INTEGER REFERENCES members(id))`,
		`CREATE TABLE members (id INTEGER PRIMARY KEY, team_id INTEGER REFERENCES teams(id))`,
	}
	mustExec(t, source, cyclicSchema...)
	mustExec(t, source,
		`INSERT INTO teams (id, lead_id) VALUES (1, NULL)`,
		`INSERT INTO members (id, team_id) VALUES (1, 1)`,
	)
	mustExec(t, target, cyclicSchema...)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	syncer := New(source, dburl.DialectSQLite, target, dburl.DialectSQLite, logger)

	stats, err := syncer.Sync(context.Background(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Inserted)

	// Both relax statements must land on the live transaction; a restore
	// issued after commit fails and is logged.
	assert.NotContains(t, logs.String(), "failed to relax constraints")

	var teamID int64
	require.NoError(t, target.QueryRow(`SELECT team_id FROM members WHERE id = 1`).Scan(&teamID))
	assert.Equal(t, int64(1), teamID)

	// Enforcement survives the sync.
	_, err = target.Exec(`INSERT INTO members (id, team_id) VALUES (99, 42)`)
	require.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	for _, name := range Strategies() {
		s, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, Strategy(name), s)
	}

	_, err := ParseStrategy("replace")
	assert.Error(t, err)
}
