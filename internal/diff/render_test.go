package diff

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/dbsync/internal/schema"
)

// goldenAssert compares rendered plan text against a golden file.
// Regenerate with: go test ./internal/diff -update
func goldenAssert(t *testing.T, name string, plan *Plan) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(plan.RenderText()))
}

func TestRenderText_Empty(t *testing.T) {
	goldenAssert(t, "plan_empty", &Plan{})
}

func TestRenderText_Full(t *testing.T) {
	srcUsers := table("users",
		col("id", "INTEGER"),
		col("email", "TEXT"),
		col("age", "INTEGER"),
		col("city", "TEXT"),
		col("last_login", "TIMESTAMP"),
		schema.Column{Name: "is_active", Type: "BOOLEAN", Nullable: false},
	)
	srcUsers.Indexes = []schema.Index{{Name: "idx_users_city", Columns: []string{"city"}}}
	srcUsers.Uniques = []schema.Unique{{Name: "uniq_users_email", Columns: []string{"email"}}}
	srcUsers.Checks = []schema.Check{{Name: "chk_users_age", Expr: "age >= 0"}}

	srcOrders := table("orders",
		col("id", "INTEGER"),
		col("user_id", "INTEGER"),
		col("amount", "REAL"),
	)
	srcOrders.ForeignKeys = []schema.ForeignKey{
		{Columns: []string{"user_id"}, RefTable: "users", RefColumns: []string{"id"}},
	}

	tgtUsers := table("users",
		col("id", "INTEGER"),
		col("email", "TEXT"),
		col("age", "TEXT"),
		col("city", "TEXT"),
		col("legacy_code", "TEXT"),
	)
	tgtAudit := table("audit_log", col("id", "INTEGER"), col("message", "TEXT"))

	plan := Analyze(schemaOf(srcUsers, srcOrders), schemaOf(tgtUsers, tgtAudit))
	goldenAssert(t, "plan_full", plan)
}

func TestRenderText_ForeignKeys(t *testing.T) {
	users := table("users", col("id", "INTEGER"))

	srcOrders := table("orders", col("id", "INTEGER"), col("user_id", "INTEGER"))
	srcOrders.ForeignKeys = []schema.ForeignKey{
		{Columns: []string{"user_id"}, RefTable: "users", RefColumns: []string{"id"}},
	}
	tgtOrders := table("orders", col("id", "INTEGER"), col("user_id", "INTEGER"))

	plan := Analyze(schemaOf(users, srcOrders), schemaOf(users, tgtOrders))
	goldenAssert(t, "plan_fk", plan)
}
