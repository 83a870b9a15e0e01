package schema

import "sort"

// Column describes one column of a reflected table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	// Default is the raw default expression as reported by the engine,
	// nil when the column has no default.
	Default *string `json:"default,omitempty"`
}

// Index describes a named index over one or more columns.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// ForeignKey describes a reference from this table's columns to another
// table's columns. The constraint name is dialect-assigned and not part of
// the identity used for comparisons.
type ForeignKey struct {
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
}

// Unique describes a unique constraint (as opposed to a plain unique index).
type Unique struct {
	Name    string   `json:"name,omitempty"`
	Columns []string `json:"columns"`
}

// Check describes a check constraint by its SQL expression.
type Check struct {
	Name string `json:"name,omitempty"`
	Expr string `json:"expr"`
}

// Table is the reflected shape of one table.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	Uniques     []Unique     `json:"uniques,omitempty"`
	Checks      []Check      `json:"checks,omitempty"`
}

// Column returns the named column, if present.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the table's column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Schema is the reflected shape of a whole database.
type Schema struct {
	Tables map[string]*Table `json:"tables"`
}

// NewSchema returns an empty schema ready to be populated.
func NewSchema() *Schema {
	return &Schema{Tables: make(map[string]*Table)}
}

// Table returns the named table, if present.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// TableNames returns all table names in sorted order.
// Sorted output keeps plans and reports deterministic.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
