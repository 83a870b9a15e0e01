package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// sqliteInspector reflects schema through sqlite_master and PRAGMA queries.
type sqliteInspector struct {
	db *sql.DB
}

func (in *sqliteInspector) Inspect(ctx context.Context) (*Schema, error) {
	s := NewSchema()

	rows, err := in.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	for _, name := range names {
		table, err := in.inspectTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", name, err)
		}
		s.Tables[name] = table
	}

	return s, nil
}

func (in *sqliteInspector) inspectTable(ctx context.Context, name string) (*Table, error) {
	table := &Table{Name: name}

	if err := in.columns(ctx, table); err != nil {
		return nil, err
	}
	if err := in.indexes(ctx, table); err != nil {
		return nil, err
	}
	if err := in.foreignKeys(ctx, table); err != nil {
		return nil, err
	}

	return table, nil
}

func (in *sqliteInspector) columns(ctx context.Context, table *Table) error {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(table.Name)))
	if err != nil {
		return fmt.Errorf("table_info: %w", err)
	}
	defer rows.Close()

	// pk column of table_info is the 1-based position within the primary
	// key, 0 for non-key columns.
	type pkCol struct {
		pos  int
		name string
	}
	var pk []pkCol

	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pkPos   int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pkPos); err != nil {
			return fmt.Errorf("scan table_info: %w", err)
		}

		col := Column{
			Name:     colName,
			Type:     strings.ToUpper(strings.TrimSpace(colType)),
			Nullable: notNull == 0,
		}
		if dflt.Valid {
			v := dflt.String
			col.Default = &v
		}
		table.Columns = append(table.Columns, col)

		if pkPos > 0 {
			pk = append(pk, pkCol{pos: pkPos, name: colName})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("table_info: %w", err)
	}

	sort.Slice(pk, func(i, j int) bool { return pk[i].pos < pk[j].pos })
	for _, c := range pk {
		table.PrimaryKey = append(table.PrimaryKey, c.name)
	}

	return nil
}

func (in *sqliteInspector) indexes(ctx context.Context, table *Table) error {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", QuoteIdent(table.Name)))
	if err != nil {
		return fmt.Errorf("index_list: %w", err)
	}

	type idxMeta struct {
		name   string
		unique bool
		origin string
	}
	var metas []idxMeta
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return fmt.Errorf("scan index_list: %w", err)
		}
		metas = append(metas, idxMeta{name: name, unique: unique == 1, origin: origin})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("index_list: %w", err)
	}
	rows.Close()

	for _, meta := range metas {
		// origin: "c" = CREATE INDEX, "u" = UNIQUE constraint,
		// "pk" = primary key. The pk index duplicates PrimaryKey.
		if meta.origin == "pk" {
			continue
		}

		cols, err := in.indexColumns(ctx, meta.name)
		if err != nil {
			return err
		}

		if meta.origin == "u" {
			table.Uniques = append(table.Uniques, Unique{Name: meta.name, Columns: cols})
			continue
		}
		table.Indexes = append(table.Indexes, Index{Name: meta.name, Columns: cols, Unique: meta.unique})
	}

	return nil
}

func (in *sqliteInspector) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", QuoteIdent(indexName)))
	if err != nil {
		return nil, fmt.Errorf("index_info %s: %w", indexName, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			seqno int
			cid   int
			name  sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("scan index_info %s: %w", indexName, err)
		}
		// Expression index columns come back NULL; keep a placeholder so
		// arity still matches.
		if name.Valid {
			cols = append(cols, name.String)
		} else {
			cols = append(cols, "<expr>")
		}
	}
	return cols, rows.Err()
}

func (in *sqliteInspector) foreignKeys(ctx context.Context, table *Table) error {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", QuoteIdent(table.Name)))
	if err != nil {
		return fmt.Errorf("foreign_key_list: %w", err)
	}
	defer rows.Close()

	// Multi-column FKs share an id and arrive as one row per column pair,
	// ordered by seq.
	byID := make(map[int]*ForeignKey)
	var order []int

	for rows.Next() {
		var (
			id       int
			seq      int
			refTable string
			from     string
			to       sql.NullString
			onUpdate string
			onDelete string
			match    string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return fmt.Errorf("scan foreign_key_list: %w", err)
		}

		fk, ok := byID[id]
		if !ok {
			fk = &ForeignKey{RefTable: refTable}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		if to.Valid {
			fk.RefColumns = append(fk.RefColumns, to.String)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("foreign_key_list: %w", err)
	}

	for _, id := range order {
		table.ForeignKeys = append(table.ForeignKeys, *byID[id])
	}
	return nil
}

// QuoteIdent quotes a SQL identifier with double quotes, doubling any
// embedded quote characters.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
