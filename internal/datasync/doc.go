// Package datasync copies rows from a source database to a target database
// and reports row-level conflicts between the two.
//
// Tables are processed in foreign-key-safe order; tables that participate in
// reference cycles are synced with constraint enforcement relaxed where the
// dialect allows it. Rows are read in primary-key-ordered batches, and what
// happens on a key collision is decided by a Strategy (skip, overwrite,
// merge). Tables without a primary key are skipped: without a key there is
// no row identity to sync by.
package datasync
