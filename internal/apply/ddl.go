package apply

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/roach88/dbsync/internal/dburl"
	"github.com/roach88/dbsync/internal/schema"
)

// createTableSQL builds a CREATE TABLE IF NOT EXISTS statement for the full
// reflected shape of a table: columns, primary key, foreign keys, uniques,
// and checks.
func createTableSQL(t *schema.Table) string {
	var defs []string

	for _, c := range t.Columns {
		defs = append(defs, columnDef(c))
	}

	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quoteList(fk.Columns), schema.QuoteIdent(fk.RefTable), quoteList(fk.RefColumns)))
	}
	for _, u := range t.Uniques {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", quoteList(u.Columns)))
	}
	for _, c := range t.Checks {
		defs = append(defs, fmt.Sprintf("CHECK (%s)", c.Expr))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		schema.QuoteIdent(t.Name), strings.Join(defs, ",\n\t"))
}

func columnDef(c schema.Column) string {
	def := schema.QuoteIdent(c.Name) + " " + c.Type
	if !c.Nullable {
		def += " NOT NULL"
	}
	if c.Default != nil {
		def += " DEFAULT " + *c.Default
	}
	return def
}

// AddColumnSQL builds the ALTER TABLE statement for one missing column.
// Nullability and default are carried from the source column so existing
// target rows stay valid.
func AddColumnSQL(dialect dburl.Dialect, table string, c schema.Column) string {
	ifNotExists := ""
	if dialect == dburl.DialectPostgres {
		ifNotExists = "IF NOT EXISTS "
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s%s",
		schema.QuoteIdent(table), ifNotExists, columnDef(c))
}

// createIndexSQL builds a CREATE INDEX statement. When the source index name
// is empty a name is derived from the table and columns.
func createIndexSQL(table string, idx schema.Index) string {
	name := idx.Name
	if name == "" {
		name = fmt.Sprintf("idx_%s_%s", table, strings.Join(idx.Columns, "_"))
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, schema.QuoteIdent(name), schema.QuoteIdent(table), quoteList(idx.Columns))
}

func addForeignKeySQL(table string, fk schema.ForeignKey) string {
	name := fmt.Sprintf("fk_%s_%s", table, strings.Join(fk.Columns, "_"))
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		schema.QuoteIdent(table), schema.QuoteIdent(name),
		quoteList(fk.Columns), schema.QuoteIdent(fk.RefTable), quoteList(fk.RefColumns))
}

func addUniqueSQL(table string, u schema.Unique) string {
	name := u.Name
	if name == "" {
		name = fmt.Sprintf("uniq_%s_%s", table, strings.Join(u.Columns, "_"))
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
		schema.QuoteIdent(table), schema.QuoteIdent(name), quoteList(u.Columns))
}

func addCheckSQL(table string, c schema.Check) string {
	name := c.Name
	if name == "" {
		h := fnv.New32a()
		h.Write([]byte(c.Expr))
		name = fmt.Sprintf("chk_%s_%d", table, h.Sum32())
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)",
		schema.QuoteIdent(table), schema.QuoteIdent(name), c.Expr)
}

func quoteList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = schema.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
