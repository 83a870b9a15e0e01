package diff

import (
	"fmt"
	"strings"
)

// RenderText formats a plan for terminal output.
// Output is stable for a given plan; golden tests rely on that.
func (p *Plan) RenderText() string {
	if p.Empty() {
		return "Schemas match. Nothing to do.\n"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Migration plan: %d change(s), %d warning(s)\n", p.ChangeCount(), len(p.Warnings))

	if len(p.CreateTables) > 0 {
		b.WriteString("\nCreate tables:\n")
		for _, t := range p.CreateTables {
			fmt.Fprintf(&b, "  + %s\n", t)
		}
	}

	if len(p.AddColumns) > 0 {
		b.WriteString("\nAdd columns:\n")
		for _, c := range p.AddColumns {
			null := "NOT NULL"
			if c.Column.Nullable {
				null = "NULL"
			}
			fmt.Fprintf(&b, "  + %s.%s %s %s\n", c.Table, c.Column.Name, c.Column.Type, null)
		}
	}

	if len(p.AddIndexes) > 0 {
		b.WriteString("\nAdd indexes:\n")
		for _, i := range p.AddIndexes {
			kind := "INDEX"
			if i.Index.Unique {
				kind = "UNIQUE INDEX"
			}
			fmt.Fprintf(&b, "  + %s: %s %s (%s)\n", i.Table, kind, i.Index.Name, strings.Join(i.Index.Columns, ", "))
		}
	}

	if len(p.AddForeignKeys) > 0 {
		b.WriteString("\nAdd foreign keys:\n")
		for _, f := range p.AddForeignKeys {
			fmt.Fprintf(&b, "  + %s: (%s) -> %s(%s)\n",
				f.Table,
				strings.Join(f.ForeignKey.Columns, ", "),
				f.ForeignKey.RefTable,
				strings.Join(f.ForeignKey.RefColumns, ", "))
		}
	}

	if len(p.AddUniques) > 0 {
		b.WriteString("\nAdd unique constraints:\n")
		for _, u := range p.AddUniques {
			fmt.Fprintf(&b, "  + %s: UNIQUE (%s)\n", u.Table, strings.Join(u.Unique.Columns, ", "))
		}
	}

	if len(p.AddChecks) > 0 {
		b.WriteString("\nAdd check constraints:\n")
		for _, c := range p.AddChecks {
			fmt.Fprintf(&b, "  + %s: CHECK (%s)\n", c.Table, c.Check.Expr)
		}
	}

	if len(p.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range sortWarnings(p.Warnings) {
			fmt.Fprintf(&b, "  %-7s %s\n", w.Level, w.Message)
		}
	}

	return b.String()
}

// ChangeCount returns the number of schema changes in the plan.
func (p *Plan) ChangeCount() int {
	return len(p.CreateTables) +
		len(p.AddColumns) +
		len(p.AddIndexes) +
		len(p.AddForeignKeys) +
		len(p.AddUniques) +
		len(p.AddChecks)
}
