package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/dbsync/internal/dburl"
)

// Inspector reflects a live database into a Schema.
type Inspector interface {
	// Inspect reads the full schema. The returned Schema is a snapshot;
	// it does not track later DDL.
	Inspect(ctx context.Context) (*Schema, error)
}

// NewInspector returns the Inspector for the given dialect.
func NewInspector(db *sql.DB, dialect dburl.Dialect) (Inspector, error) {
	switch dialect {
	case dburl.DialectSQLite:
		return &sqliteInspector{db: db}, nil
	case dburl.DialectPostgres:
		return &postgresInspector{db: db}, nil
	default:
		return nil, fmt.Errorf("no inspector for dialect %q", dialect)
	}
}
