package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// postgresInspector reflects schema through information_schema and
// pg_catalog. Only the public schema is inspected.
type postgresInspector struct {
	db *sql.DB
}

func (in *postgresInspector) Inspect(ctx context.Context) (*Schema, error) {
	s := NewSchema()

	rows, err := in.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name
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
		table := &Table{Name: name}
		if err := in.columns(ctx, table); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", name, err)
		}
		if err := in.primaryKey(ctx, table); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", name, err)
		}
		if err := in.indexes(ctx, table); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", name, err)
		}
		if err := in.constraints(ctx, table); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", name, err)
		}
		s.Tables[name] = table
	}

	return s, nil
}

func (in *postgresInspector) columns(ctx context.Context, table *Table) error {
	rows, err := in.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`, table.Name)
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name     string
			dataType string
			nullable string
			dflt     sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &nullable, &dflt); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}

		col := Column{
			Name:     name,
			Type:     strings.ToUpper(dataType),
			Nullable: nullable == "YES",
		}
		if dflt.Valid {
			v := dflt.String
			col.Default = &v
		}
		table.Columns = append(table.Columns, col)
	}
	return rows.Err()
}

func (in *postgresInspector) primaryKey(ctx context.Context, table *Table) error {
	rows, err := in.db.QueryContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		WHERE tc.table_schema = 'public'
		  AND tc.table_name = $1
		  AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
	`, table.Name)
	if err != nil {
		return fmt.Errorf("primary key: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return fmt.Errorf("scan primary key: %w", err)
		}
		table.PrimaryKey = append(table.PrimaryKey, col)
	}
	return rows.Err()
}

func (in *postgresInspector) indexes(ctx context.Context, table *Table) error {
	// pg_index gives column positions; unnest + array_agg keeps order.
	rows, err := in.db.QueryContext(ctx, `
		SELECT i.relname,
		       ix.indisunique,
		       array_agg(a.attname ORDER BY k.ord)
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = 'public'
		  AND t.relname = $1
		  AND NOT ix.indisprimary
		GROUP BY i.relname, ix.indisunique
		ORDER BY i.relname
	`, table.Name)
	if err != nil {
		return fmt.Errorf("indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name   string
			unique bool
			cols   pq.StringArray
		)
		if err := rows.Scan(&name, &unique, &cols); err != nil {
			return fmt.Errorf("scan index: %w", err)
		}
		table.Indexes = append(table.Indexes, Index{Name: name, Columns: cols, Unique: unique})
	}
	return rows.Err()
}

func (in *postgresInspector) constraints(ctx context.Context, table *Table) error {
	// Foreign keys.
	fkRows, err := in.db.QueryContext(ctx, `
		SELECT tc.constraint_name,
		       array_agg(DISTINCT kcu.column_name),
		       ccu.table_name,
		       array_agg(DISTINCT ccu.column_name)
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name
		 AND ccu.table_schema = tc.table_schema
		WHERE tc.table_schema = 'public'
		  AND tc.table_name = $1
		  AND tc.constraint_type = 'FOREIGN KEY'
		GROUP BY tc.constraint_name, ccu.table_name
		ORDER BY tc.constraint_name
	`, table.Name)
	if err != nil {
		return fmt.Errorf("foreign keys: %w", err)
	}
	for fkRows.Next() {
		var (
			name    string
			cols    pq.StringArray
			refTbl  string
			refCols pq.StringArray
		)
		if err := fkRows.Scan(&name, &cols, &refTbl, &refCols); err != nil {
			fkRows.Close()
			return fmt.Errorf("scan foreign key: %w", err)
		}
		table.ForeignKeys = append(table.ForeignKeys, ForeignKey{
			Columns:    cols,
			RefTable:   refTbl,
			RefColumns: refCols,
		})
	}
	if err := fkRows.Err(); err != nil {
		fkRows.Close()
		return fmt.Errorf("foreign keys: %w", err)
	}
	fkRows.Close()

	// Unique constraints.
	uRows, err := in.db.QueryContext(ctx, `
		SELECT tc.constraint_name,
		       array_agg(kcu.column_name ORDER BY kcu.ordinal_position)
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		WHERE tc.table_schema = 'public'
		  AND tc.table_name = $1
		  AND tc.constraint_type = 'UNIQUE'
		GROUP BY tc.constraint_name
		ORDER BY tc.constraint_name
	`, table.Name)
	if err != nil {
		return fmt.Errorf("unique constraints: %w", err)
	}
	for uRows.Next() {
		var (
			name string
			cols pq.StringArray
		)
		if err := uRows.Scan(&name, &cols); err != nil {
			uRows.Close()
			return fmt.Errorf("scan unique constraint: %w", err)
		}
		table.Uniques = append(table.Uniques, Unique{Name: name, Columns: cols})
	}
	if err := uRows.Err(); err != nil {
		uRows.Close()
		return fmt.Errorf("unique constraints: %w", err)
	}
	uRows.Close()

	// Check constraints. information_schema includes the implicit NOT NULL
	// checks; filter those out by name convention.
	cRows, err := in.db.QueryContext(ctx, `
		SELECT cc.constraint_name, cc.check_clause
		FROM information_schema.check_constraints cc
		JOIN information_schema.table_constraints tc
		  ON tc.constraint_name = cc.constraint_name
		 AND tc.constraint_schema = cc.constraint_schema
		WHERE tc.table_schema = 'public'
		  AND tc.table_name = $1
		  AND cc.check_clause NOT LIKE '%IS NOT NULL'
		ORDER BY cc.constraint_name
	`, table.Name)
	if err != nil {
		return fmt.Errorf("check constraints: %w", err)
	}
	defer cRows.Close()
	for cRows.Next() {
		var name, clause string
		if err := cRows.Scan(&name, &clause); err != nil {
			return fmt.Errorf("scan check constraint: %w", err)
		}
		table.Checks = append(table.Checks, Check{Name: name, Expr: clause})
	}
	return cRows.Err()
}
