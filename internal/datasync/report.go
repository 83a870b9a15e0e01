package datasync

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/dbsync/internal/schema"
)

// ValueDiff holds the two sides of one differing column. nil means the
// column is NULL or absent on that side.
type ValueDiff struct {
	Source *string `json:"source"`
	Target *string `json:"target"`
}

// RowConflict is one primary key whose rows differ between source and target.
type RowConflict struct {
	PK    string               `json:"pk"`
	Diffs map[string]ValueDiff `json:"diffs"`
}

// Report maps table names to their row conflicts.
type Report struct {
	Tables map[string][]RowConflict `json:"tables"`
}

// Empty reports whether no conflicts were found.
func (r *Report) Empty() bool { return len(r.Tables) == 0 }

// TableNames returns conflicted table names in sorted order.
func (r *Report) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Conflicts compares source and target rows read-only and reports every
// primary key whose column values differ.
//
// Comparison is textual: values are stringified and NFC-normalized, so an
// integer 30 in the source equals the string "30" in a drifted target
// column. Rows present on only one side conflict in every non-NULL column.
// Both tables are read fully; this is a diagnostic pass, not a paged one.
func (s *Syncer) Conflicts(ctx context.Context) (*Report, error) {
	srcSchema, tgtSchema, err := s.reflect(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Tables: make(map[string][]RowConflict)}

	order, cyclic := schema.TableOrder(srcSchema)
	seen := make(map[string]bool)

	for _, name := range append(order, cyclic...) {
		if seen[name] {
			continue
		}
		seen[name] = true

		srcTable := srcSchema.Tables[name]
		tgtTable, ok := tgtSchema.Tables[name]
		if !ok {
			continue
		}
		if len(srcTable.PrimaryKey) == 0 {
			continue
		}

		conflicts, err := s.tableConflicts(ctx, srcTable, tgtTable)
		if err != nil {
			return nil, fmt.Errorf("conflicts in table %s: %w", name, err)
		}
		if len(conflicts) > 0 {
			report.Tables[name] = conflicts
		}
	}

	return report, nil
}

func (s *Syncer) tableConflicts(ctx context.Context, src, tgt *schema.Table) ([]RowConflict, error) {
	pk := src.PrimaryKey

	srcRows, err := loadRows(ctx, s.source, src, pk)
	if err != nil {
		return nil, fmt.Errorf("load source rows: %w", err)
	}
	tgtRows, err := loadRows(ctx, s.target, tgt, pk)
	if err != nil {
		return nil, fmt.Errorf("load target rows: %w", err)
	}

	// Union of columns on both sides; a column missing from one side reads
	// as NULL there.
	colSet := make(map[string]bool)
	for _, c := range src.Columns {
		colSet[c.Name] = true
	}
	for _, c := range tgt.Columns {
		colSet[c.Name] = true
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	keySet := make(map[string]bool, len(srcRows)+len(tgtRows))
	for k := range srcRows {
		keySet[k] = true
	}
	for k := range tgtRows {
		keySet[k] = true
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []RowConflict
	for _, key := range keys {
		srcRow := srcRows[key]
		tgtRow := tgtRows[key]

		diffs := make(map[string]ValueDiff)
		for _, col := range cols {
			sv := stringify(srcRow[col])
			tv := stringify(tgtRow[col])
			if !equalValue(sv, tv) {
				diffs[col] = ValueDiff{Source: sv, Target: tv}
			}
		}
		if len(diffs) > 0 {
			conflicts = append(conflicts, RowConflict{PK: key, Diffs: diffs})
		}
	}
	return conflicts, nil
}

// loadRows reads a whole table keyed by stringified primary key.
func loadRows(ctx context.Context, db *sql.DB, table *schema.Table, pk []string) (map[string]map[string]any, error) {
	cols := table.ColumnNames()
	query := fmt.Sprintf("SELECT %s FROM %s", quoteJoin(cols), schema.QuoteIdent(table.Name))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		scan := make([]any, len(cols))
		for i := range scan {
			scan[i] = new(any)
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = *(scan[i].(*any))
		}

		keyParts := make([]string, len(pk))
		for i, col := range pk {
			if v := stringify(row[col]); v != nil {
				keyParts[i] = *v
			}
		}
		out[strings.Join(keyParts, "|")] = row
	}
	return out, rows.Err()
}

func stringify(v any) *string {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	s := fmt.Sprint(v)
	return &s
}

// equalValue compares two optional strings under NFC normalization, so the
// same text in different Unicode compositions does not count as drift.
func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return norm.NFC.String(*a) == norm.NFC.String(*b)
}

// RenderText formats a report for terminal output.
func (r *Report) RenderText() string {
	if r.Empty() {
		return "No conflicts found.\n"
	}

	var b strings.Builder
	for _, table := range r.TableNames() {
		conflicts := r.Tables[table]
		fmt.Fprintf(&b, "%s: %d conflicting row(s)\n", table, len(conflicts))
		for _, c := range conflicts {
			fmt.Fprintf(&b, "  pk=%s\n", c.PK)
			colNames := make([]string, 0, len(c.Diffs))
			for col := range c.Diffs {
				colNames = append(colNames, col)
			}
			sort.Strings(colNames)
			for _, col := range colNames {
				d := c.Diffs[col]
				fmt.Fprintf(&b, "    %s: source=%s target=%s\n", col, renderValue(d.Source), renderValue(d.Target))
			}
		}
	}
	return b.String()
}

func renderValue(v *string) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%q", *v)
}
