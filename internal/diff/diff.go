// Package diff compares two reflected schemas and produces a migration plan.
//
// The plan separates changes into two buckets:
//   - additive changes the tool can apply on its own (new tables, missing
//     columns, missing indexes and constraints), and
//   - observations that need an operator (extra tables or columns in the
//     target, type drift), carried as warnings.
//
// Nothing in this package touches a database; it is pure comparison over the
// schema model, which keeps it deterministic and easy to test.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/dbsync/internal/schema"
)

// WarnLevel classifies a plan warning.
type WarnLevel string

const (
	// LevelWarning marks a safe, automatically appliable difference.
	LevelWarning WarnLevel = "WARNING"
	// LevelManual marks a difference that needs operator action; the tool
	// never drops or rewrites anything on its own.
	LevelManual WarnLevel = "MANUAL"
)

// Warning is one observation produced during schema analysis.
type Warning struct {
	Level   WarnLevel `json:"level"`
	Message string    `json:"message"`
}

// ColumnAdd is a column that exists in the source but not in the target.
type ColumnAdd struct {
	Table  string        `json:"table"`
	Column schema.Column `json:"column"`
}

// IndexAdd is an index present in the source but missing in the target.
type IndexAdd struct {
	Table string       `json:"table"`
	Index schema.Index `json:"index"`
}

// ForeignKeyAdd is a foreign key present in the source but missing in the target.
type ForeignKeyAdd struct {
	Table      string            `json:"table"`
	ForeignKey schema.ForeignKey `json:"foreign_key"`
}

// UniqueAdd is a unique constraint present in the source but missing in the target.
type UniqueAdd struct {
	Table  string        `json:"table"`
	Unique schema.Unique `json:"unique"`
}

// CheckAdd is a check constraint present in the source but missing in the target.
type CheckAdd struct {
	Table string       `json:"table"`
	Check schema.Check `json:"check"`
}

// Plan is the outcome of comparing a source schema against a target schema.
type Plan struct {
	CreateTables   []string        `json:"create_tables,omitempty"`
	AddColumns     []ColumnAdd     `json:"add_columns,omitempty"`
	AddIndexes     []IndexAdd      `json:"add_indexes,omitempty"`
	AddForeignKeys []ForeignKeyAdd `json:"add_foreign_keys,omitempty"`
	AddUniques     []UniqueAdd     `json:"add_uniques,omitempty"`
	AddChecks      []CheckAdd      `json:"add_checks,omitempty"`
	Warnings       []Warning       `json:"warnings,omitempty"`
}

// Empty reports whether the plan contains no changes and no warnings.
func (p *Plan) Empty() bool {
	return len(p.CreateTables) == 0 &&
		len(p.AddColumns) == 0 &&
		len(p.AddIndexes) == 0 &&
		len(p.AddForeignKeys) == 0 &&
		len(p.AddUniques) == 0 &&
		len(p.AddChecks) == 0 &&
		len(p.Warnings) == 0
}

// HasManual reports whether any warning requires operator action.
func (p *Plan) HasManual() bool {
	for _, w := range p.Warnings {
		if w.Level == LevelManual {
			return true
		}
	}
	return false
}

func (p *Plan) warnf(level WarnLevel, format string, args ...any) {
	p.Warnings = append(p.Warnings, Warning{Level: level, Message: fmt.Sprintf(format, args...)})
}

// Analyze compares the source schema against the target schema.
//
// Tables are visited in sorted order and columns in source declaration
// order, so two runs over the same schemas produce identical plans.
func Analyze(source, target *schema.Schema) *Plan {
	plan := &Plan{}

	sourceNames := source.TableNames()
	targetSet := make(map[string]bool, len(target.Tables))
	for name := range target.Tables {
		targetSet[name] = true
	}

	for _, name := range sourceNames {
		if !targetSet[name] {
			plan.CreateTables = append(plan.CreateTables, name)
			plan.warnf(LevelWarning, "New table: %s", name)
		}
	}

	for _, name := range sourceNames {
		if !targetSet[name] {
			continue
		}
		analyzeTable(plan, source.Tables[name], target.Tables[name])
	}

	for _, name := range target.TableNames() {
		if _, ok := source.Table(name); !ok {
			plan.warnf(LevelManual, "Extra table in target database: %s", name)
		}
	}

	return plan
}

func analyzeTable(plan *Plan, src, tgt *schema.Table) {
	tgtCols := make(map[string]schema.Column, len(tgt.Columns))
	for _, c := range tgt.Columns {
		tgtCols[c.Name] = c
	}
	srcCols := make(map[string]bool, len(src.Columns))

	for _, c := range src.Columns {
		srcCols[c.Name] = true
		existing, ok := tgtCols[c.Name]
		if !ok {
			plan.AddColumns = append(plan.AddColumns, ColumnAdd{Table: src.Name, Column: c})
			plan.warnf(LevelWarning, "Column %s missing in target table %s", c.Name, src.Name)
			continue
		}
		if !typesEqual(c.Type, existing.Type) {
			plan.warnf(LevelWarning,
				"Type mismatch for %s in table %s: source=%s, target=%s",
				c.Name, src.Name, c.Type, existing.Type)
		}
	}

	for _, c := range tgt.Columns {
		if !srcCols[c.Name] {
			plan.warnf(LevelManual, "Extra column %s in target table %s", c.Name, src.Name)
		}
	}

	analyzeIndexes(plan, src, tgt)
	analyzeForeignKeys(plan, src, tgt)
	analyzeUniques(plan, src, tgt)
	analyzeChecks(plan, src, tgt)
}

func analyzeIndexes(plan *Plan, src, tgt *schema.Table) {
	have := make(map[string]bool, len(tgt.Indexes))
	for _, idx := range tgt.Indexes {
		have[indexSignature(idx)] = true
	}
	for _, idx := range src.Indexes {
		if !have[indexSignature(idx)] {
			plan.AddIndexes = append(plan.AddIndexes, IndexAdd{Table: src.Name, Index: idx})
		}
	}
}

func analyzeForeignKeys(plan *Plan, src, tgt *schema.Table) {
	have := make(map[string]bool, len(tgt.ForeignKeys))
	for _, fk := range tgt.ForeignKeys {
		have[fkSignature(fk)] = true
	}
	for _, fk := range src.ForeignKeys {
		if !have[fkSignature(fk)] {
			plan.AddForeignKeys = append(plan.AddForeignKeys, ForeignKeyAdd{Table: src.Name, ForeignKey: fk})
		}
	}
}

func analyzeUniques(plan *Plan, src, tgt *schema.Table) {
	have := make(map[string]bool, len(tgt.Uniques))
	for _, u := range tgt.Uniques {
		have[columnsSignature(u.Columns)] = true
	}
	for _, u := range src.Uniques {
		if !have[columnsSignature(u.Columns)] {
			plan.AddUniques = append(plan.AddUniques, UniqueAdd{Table: src.Name, Unique: u})
		}
	}
}

func analyzeChecks(plan *Plan, src, tgt *schema.Table) {
	have := make(map[string]bool, len(tgt.Checks))
	for _, c := range tgt.Checks {
		have[normalizeExpr(c.Expr)] = true
	}
	for _, c := range src.Checks {
		if !have[normalizeExpr(c.Expr)] {
			plan.AddChecks = append(plan.AddChecks, CheckAdd{Table: src.Name, Check: c})
		}
	}
}

// indexSignature identifies an index by uniqueness and column list; the
// engine-assigned name is irrelevant for comparison.
func indexSignature(idx schema.Index) string {
	u := "n"
	if idx.Unique {
		u = "u"
	}
	return u + ":" + columnsSignature(idx.Columns)
}

func fkSignature(fk schema.ForeignKey) string {
	return columnsSignature(fk.Columns) + "->" + fk.RefTable + "(" + columnsSignature(fk.RefColumns) + ")"
}

func columnsSignature(cols []string) string {
	return strings.Join(cols, ",")
}

func normalizeExpr(expr string) string {
	return strings.Join(strings.Fields(strings.ToLower(expr)), " ")
}

// typesEqual compares column types loosely: case-insensitive, whitespace
// collapsed, and common integer aliases folded together. Engines render the
// same declared type differently (INT vs INTEGER, BOOL vs BOOLEAN) and that
// difference is not drift.
func typesEqual(a, b string) bool {
	return canonicalType(a) == canonicalType(b)
}

var typeAliases = map[string]string{
	"INT":               "INTEGER",
	"INT4":              "INTEGER",
	"INT8":              "BIGINT",
	"BOOL":              "BOOLEAN",
	"CHARACTER VARYING": "VARCHAR",
	"DOUBLE PRECISION":  "DOUBLE",
}

func canonicalType(t string) string {
	c := strings.Join(strings.Fields(strings.ToUpper(t)), " ")
	// Strip length qualifiers: VARCHAR(255) -> VARCHAR.
	if i := strings.Index(c, "("); i > 0 {
		c = strings.TrimSpace(c[:i])
	}
	if alias, ok := typeAliases[c]; ok {
		return alias
	}
	return c
}

// sortWarnings is used by rendering to group warnings by level without
// changing discovery order within a level.
func sortWarnings(warnings []Warning) []Warning {
	out := make([]Warning, len(warnings))
	copy(out, warnings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Level < out[j].Level // MANUAL sorts before WARNING
	})
	return out
}
