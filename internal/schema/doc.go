// Package schema reflects the shape of a live database into a neutral,
// dialect-independent model.
//
// The model deliberately captures only what schema comparison needs: tables,
// columns (name, type, nullability, default), primary keys, indexes, foreign
// keys, unique constraints, and check constraints. Engine internals such as
// storage parameters or collations are out of scope.
//
// Inspectors exist for SQLite (sqlite_master + PRAGMA introspection) and
// PostgreSQL (information_schema + pg_catalog). Both produce identical model
// shapes so the diff layer never needs to know which engine it is looking at.
package schema
