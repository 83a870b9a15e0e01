package apply

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/dbsync/internal/dburl"
	"github.com/roach88/dbsync/internal/schema"
)

// RealignSequences advances the target's auto-increment counters after rows
// have been copied, so the next generated key cannot collide with a synced
// row.
//
// The new counter value is max(MAX(pk) on source, MAX(pk) on target), read
// portably from the tables themselves rather than from engine sequence
// state. Only tables with a single integer primary key participate.
func (a *Applier) RealignSequences(ctx context.Context, source *sql.DB, sch *schema.Schema) []Result {
	var results []Result

	for _, name := range sch.TableNames() {
		table := sch.Tables[name]
		pk, ok := integerPK(table)
		if !ok {
			continue
		}

		r := Result{Kind: "realign_sequence", Object: name + "." + pk}

		srcMax, err := maxPK(ctx, source, name, pk)
		if err != nil {
			r.Err = fmt.Errorf("read source max: %w", err)
			a.log.Warn("sequence realign failed", "table", name, "error", r.Err)
			results = append(results, r)
			continue
		}
		tgtMax, err := maxPK(ctx, a.db, name, pk)
		if err != nil {
			r.Err = fmt.Errorf("read target max: %w", err)
			a.log.Warn("sequence realign failed", "table", name, "error", r.Err)
			results = append(results, r)
			continue
		}

		next := srcMax
		if tgtMax > next {
			next = tgtMax
		}
		if next == 0 {
			results = append(results, r)
			continue
		}

		if err := a.setCounter(ctx, name, pk, next); err != nil {
			r.Err = err
			a.log.Warn("sequence realign failed", "table", name, "error", err)
		} else {
			a.log.Info("sequence realigned", "table", name, "value", next)
		}
		results = append(results, r)
	}

	return results
}

func (a *Applier) setCounter(ctx context.Context, table, pk string, value int64) error {
	switch a.dialect {
	case dburl.DialectPostgres:
		// pg_get_serial_sequence returns NULL for plain integer columns;
		// nothing to realign then.
		var seq sql.NullString
		err := a.db.QueryRowContext(ctx,
			"SELECT pg_get_serial_sequence($1, $2)", table, pk).Scan(&seq)
		if err != nil {
			return fmt.Errorf("resolve sequence: %w", err)
		}
		if !seq.Valid {
			return nil
		}
		if _, err := a.db.ExecContext(ctx,
			"SELECT setval($1, $2, true)", seq.String, value); err != nil {
			return fmt.Errorf("setval %s: %w", seq.String, err)
		}
		return nil

	case dburl.DialectSQLite:
		// sqlite_sequence only exists once an AUTOINCREMENT table has
		// been created; absence means rowid allocation needs no help.
		var exists int
		err := a.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").Scan(&exists)
		if err != nil || exists == 0 {
			return err
		}
		res, err := a.db.ExecContext(ctx,
			"UPDATE sqlite_sequence SET seq = ? WHERE name = ?", value, table)
		if err != nil {
			return fmt.Errorf("update sqlite_sequence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := a.db.ExecContext(ctx,
				"INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)", table, value); err != nil {
				return fmt.Errorf("insert sqlite_sequence: %w", err)
			}
		}
		return nil

	default:
		return fmt.Errorf("no sequence support for dialect %q", a.dialect)
	}
}

func maxPK(ctx context.Context, db *sql.DB, table, pk string) (int64, error) {
	var max sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", schema.QuoteIdent(pk), schema.QuoteIdent(table))
	if err := db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// integerPK returns the primary key column when the table has exactly one
// and its type is integral.
func integerPK(t *schema.Table) (string, bool) {
	if len(t.PrimaryKey) != 1 {
		return "", false
	}
	col, ok := t.Column(t.PrimaryKey[0])
	if !ok {
		return "", false
	}
	typ := strings.ToUpper(col.Type)
	if !strings.Contains(typ, "INT") && typ != "SERIAL" && typ != "BIGSERIAL" {
		return "", false
	}
	return col.Name, true
}
