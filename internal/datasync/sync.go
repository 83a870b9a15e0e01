package datasync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/dbsync/internal/apply"
	"github.com/roach88/dbsync/internal/dburl"
	"github.com/roach88/dbsync/internal/schema"
)

// DefaultBatchSize is the number of rows read from the source per page.
const DefaultBatchSize = 1000

// Options configures one sync run.
type Options struct {
	Strategy             Strategy
	BatchSize            int
	CreateMissingColumns bool
	// Include restricts the run to the named tables; empty means all.
	Include []string
	// Exclude removes tables from the run after Include is applied.
	Exclude []string
}

// DefaultOptions returns the options a bare CLI invocation gets.
func DefaultOptions() Options {
	return Options{
		Strategy:             StrategySkip,
		BatchSize:            DefaultBatchSize,
		CreateMissingColumns: true,
	}
}

// TableStats counts row outcomes for one table.
type TableStats struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	Skipped  int64 `json:"skipped"`
}

// Stats summarizes a completed sync run.
type Stats struct {
	RunID    string                `json:"run_id"`
	Tables   []string              `json:"tables"`
	PerTable map[string]TableStats `json:"per_table"`
	Inserted int64                 `json:"inserted"`
	Updated  int64                 `json:"updated"`
	Skipped  int64                 `json:"skipped"`
}

// Syncer copies data between one source and one target database.
type Syncer struct {
	source     *sql.DB
	target     *sql.DB
	srcDialect dburl.Dialect
	tgtDialect dburl.Dialect
	log        *slog.Logger
}

// New creates a Syncer. A nil logger falls back to slog.Default().
func New(source *sql.DB, srcDialect dburl.Dialect, target *sql.DB, tgtDialect dburl.Dialect, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{
		source:     source,
		target:     target,
		srcDialect: srcDialect,
		tgtDialect: tgtDialect,
		log:        log,
	}
}

// Sync copies rows source -> target per the options.
//
// Both schemas are reflected at the start of the run; concurrent DDL is not
// supported. A failure in one table aborts the run; partially synced tables
// keep the rows already written (each table commits separately).
func (s *Syncer) Sync(ctx context.Context, opts Options) (*Stats, error) {
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	stats := &Stats{RunID: newRunID(), PerTable: make(map[string]TableStats)}

	srcSchema, tgtSchema, err := s.reflect(ctx)
	if err != nil {
		return nil, err
	}

	order, cyclic := schema.TableOrder(srcSchema)
	cyclicSet := make(map[string]bool, len(cyclic))
	for _, t := range cyclic {
		cyclicSet[t] = true
	}

	s.log.Info("data sync starting",
		"run_id", stats.RunID,
		"strategy", strategy,
		"batch_size", opts.BatchSize,
		"tables", len(order),
	)

	for _, name := range order {
		if !selectedTable(name, opts.Include, opts.Exclude) {
			continue
		}
		srcTable := srcSchema.Tables[name]
		tgtTable, ok := tgtSchema.Tables[name]
		if !ok {
			s.log.Warn("table missing in target, skipping", "table", name)
			continue
		}
		if len(srcTable.PrimaryKey) == 0 {
			s.log.Warn("table has no primary key, skipping", "table", name)
			continue
		}

		ts, err := s.syncTable(ctx, srcTable, tgtTable, strategy, opts, cyclicSet[name])
		if err != nil {
			return stats, fmt.Errorf("sync table %s: %w", name, err)
		}

		stats.Tables = append(stats.Tables, name)
		stats.PerTable[name] = ts
		stats.Inserted += ts.Inserted
		stats.Updated += ts.Updated
		stats.Skipped += ts.Skipped
	}

	s.log.Info("data sync finished",
		"run_id", stats.RunID,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

func (s *Syncer) reflect(ctx context.Context) (src, tgt *schema.Schema, err error) {
	srcIn, err := schema.NewInspector(s.source, s.srcDialect)
	if err != nil {
		return nil, nil, err
	}
	tgtIn, err := schema.NewInspector(s.target, s.tgtDialect)
	if err != nil {
		return nil, nil, err
	}
	if src, err = srcIn.Inspect(ctx); err != nil {
		return nil, nil, fmt.Errorf("reflect source: %w", err)
	}
	if tgt, err = tgtIn.Inspect(ctx); err != nil {
		return nil, nil, fmt.Errorf("reflect target: %w", err)
	}
	return src, tgt, nil
}

func (s *Syncer) syncTable(ctx context.Context, src, tgt *schema.Table, strategy Strategy, opts Options, cyclic bool) (TableStats, error) {
	var stats TableStats

	tgt, err := s.ensureColumns(ctx, src, tgt, opts.CreateMissingColumns)
	if err != nil {
		return stats, err
	}

	// Columns present on both sides, in source declaration order.
	var cols []string
	for _, c := range src.Columns {
		if _, ok := tgt.Column(c.Name); ok {
			cols = append(cols, c.Name)
		}
	}
	if len(cols) == 0 {
		return stats, nil
	}

	tx, err := s.target.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin target tx: %w", err)
	}
	defer tx.Rollback()

	if cyclic {
		s.relaxConstraints(ctx, tx, src.Name, true)
	}

	pk := src.PrimaryKey
	for offset := 0; ; offset += opts.BatchSize {
		rows, err := s.readBatch(ctx, src.Name, cols, pk, opts.BatchSize, offset)
		if err != nil {
			return stats, err
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			outcome, err := s.writeRow(ctx, tx, tgt, cols, pk, row, strategy)
			if err != nil {
				return stats, err
			}
			switch outcome {
			case rowInserted:
				stats.Inserted++
			case rowUpdated:
				stats.Updated++
			case rowSkipped:
				stats.Skipped++
			}
		}

		if len(rows) < opts.BatchSize {
			break
		}
	}

	// Restore enforcement inside the same transaction. On postgres the
	// DISABLE TRIGGER would otherwise be committed and stay in effect;
	// a rollback undoes it without help.
	if cyclic {
		s.relaxConstraints(ctx, tx, src.Name, false)
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit: %w", err)
	}

	s.log.Info("table synced",
		"table", src.Name,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

// ensureColumns adds source-only columns to the target table when enabled.
// Returns the (possibly extended) target table model.
func (s *Syncer) ensureColumns(ctx context.Context, src, tgt *schema.Table, create bool) (*schema.Table, error) {
	if !create {
		return tgt, nil
	}
	for _, c := range src.Columns {
		if _, ok := tgt.Column(c.Name); ok {
			continue
		}
		stmt := apply.AddColumnSQL(s.tgtDialect, tgt.Name, c)
		if _, err := s.target.ExecContext(ctx, stmt); err != nil {
			s.log.Warn("failed to add column", "table", tgt.Name, "column", c.Name, "error", err)
			continue
		}
		s.log.Info("added column", "table", tgt.Name, "column", c.Name)
		tgt.Columns = append(tgt.Columns, c)
	}
	return tgt, nil
}

// relaxConstraints loosens FK enforcement for cycle members during writes.
// Failures are logged and ignored; the inserts may still succeed if the rows
// arrive in a satisfiable order.
func (s *Syncer) relaxConstraints(ctx context.Context, tx *sql.Tx, table string, on bool) {
	var stmt string
	switch s.tgtDialect {
	case dburl.DialectPostgres:
		if on {
			stmt = fmt.Sprintf("ALTER TABLE %s DISABLE TRIGGER ALL", schema.QuoteIdent(table))
		} else {
			stmt = fmt.Sprintf("ALTER TABLE %s ENABLE TRIGGER ALL", schema.QuoteIdent(table))
		}
	case dburl.DialectSQLite:
		// The pragma resets at transaction end on its own; restoring it
		// explicitly keeps a failed restore visible in the logs.
		if on {
			stmt = "PRAGMA defer_foreign_keys = ON"
		} else {
			stmt = "PRAGMA defer_foreign_keys = OFF"
		}
	default:
		return
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		s.log.Warn("failed to relax constraints", "table", table, "error", err)
	}
}

type rowOutcome int

const (
	rowSkipped rowOutcome = iota
	rowInserted
	rowUpdated
)

func (s *Syncer) writeRow(ctx context.Context, tx *sql.Tx, tgt *schema.Table, cols, pk []string, row map[string]any, strategy Strategy) (rowOutcome, error) {
	existing, found, err := s.fetchExisting(ctx, tx, tgt.Name, cols, pk, row)
	if err != nil {
		return rowSkipped, err
	}

	values := make(map[string]any, len(cols))
	for _, col := range cols {
		tc, _ := tgt.Column(col)
		values[col] = convertValue(row[col], tc.Type)
	}

	if !found {
		if err := insertRow(ctx, tx, s.tgtDialect, tgt.Name, cols, values); err != nil {
			return rowSkipped, err
		}
		return rowInserted, nil
	}

	switch strategy {
	case StrategySkip:
		return rowSkipped, nil

	case StrategyOverwrite:
		update := nonKeyColumns(cols, pk)
		if len(update) == 0 {
			return rowSkipped, nil
		}
		if err := updateRow(ctx, tx, s.tgtDialect, tgt.Name, update, pk, values); err != nil {
			return rowSkipped, err
		}
		return rowUpdated, nil

	case StrategyMerge:
		var update []string
		for _, col := range nonKeyColumns(cols, pk) {
			if isEmpty(existing[col]) {
				update = append(update, col)
			}
		}
		if len(update) == 0 {
			return rowSkipped, nil
		}
		if err := updateRow(ctx, tx, s.tgtDialect, tgt.Name, update, pk, values); err != nil {
			return rowSkipped, err
		}
		return rowUpdated, nil
	}

	return rowSkipped, fmt.Errorf("unknown strategy %q", strategy)
}

// readBatch pages through the source table ordered by primary key.
func (s *Syncer) readBatch(ctx context.Context, table string, cols, pk []string, limit, offset int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		quoteJoin(cols), schema.QuoteIdent(table), quoteJoin(pk), limit, offset)

	rows, err := s.source.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		scan := make([]any, len(cols))
		for i := range scan {
			scan[i] = new(any)
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = *(scan[i].(*any))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Syncer) fetchExisting(ctx context.Context, tx *sql.Tx, table string, cols, pk []string, row map[string]any) (map[string]any, bool, error) {
	conds := make([]string, len(pk))
	args := make([]any, len(pk))
	for i, col := range pk {
		conds[i] = fmt.Sprintf("%s = %s", schema.QuoteIdent(col), placeholder(s.tgtDialect, i+1))
		args[i] = row[col]
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		quoteJoin(cols), schema.QuoteIdent(table), strings.Join(conds, " AND "))

	scan := make([]any, len(cols))
	for i := range scan {
		scan[i] = new(any)
	}
	err := tx.QueryRowContext(ctx, query, args...).Scan(scan...)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing row: %w", err)
	}

	existing := make(map[string]any, len(cols))
	for i, col := range cols {
		existing[col] = *(scan[i].(*any))
	}
	return existing, true, nil
}

func insertRow(ctx context.Context, tx *sql.Tx, dialect dburl.Dialect, table string, cols []string, values map[string]any) error {
	phs := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		phs[i] = placeholder(dialect, i+1)
		args[i] = values[col]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.QuoteIdent(table), quoteJoin(cols), strings.Join(phs, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}

func updateRow(ctx context.Context, tx *sql.Tx, dialect dburl.Dialect, table string, update, pk []string, values map[string]any) error {
	sets := make([]string, len(update))
	args := make([]any, 0, len(update)+len(pk))
	n := 0
	for j, col := range update {
		n++
		sets[j] = fmt.Sprintf("%s = %s", schema.QuoteIdent(col), placeholder(dialect, n))
		args = append(args, values[col])
	}
	conds := make([]string, len(pk))
	for j, col := range pk {
		n++
		conds[j] = fmt.Sprintf("%s = %s", schema.QuoteIdent(col), placeholder(dialect, n))
		args = append(args, values[col])
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		schema.QuoteIdent(table), strings.Join(sets, ", "), strings.Join(conds, " AND "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	return nil
}

func nonKeyColumns(cols, pk []string) []string {
	keys := make(map[string]bool, len(pk))
	for _, k := range pk {
		keys[k] = true
	}
	var out []string
	for _, c := range cols {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}

// isEmpty reports whether a target value counts as fillable for merge:
// NULL or an empty string.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	}
	return false
}

// convertValue coerces a source value for a target column. Values headed
// into textual columns are stringified, covering schema drift like an
// integer source column that became text on the target.
func convertValue(v any, targetType string) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if isTextualType(targetType) {
		if _, ok := v.(string); !ok {
			return fmt.Sprint(v)
		}
	}
	return v
}

func isTextualType(t string) bool {
	t = strings.ToUpper(t)
	return strings.Contains(t, "CHAR") || strings.Contains(t, "TEXT") || strings.Contains(t, "CLOB")
}

func placeholder(dialect dburl.Dialect, i int) string {
	if dialect == dburl.DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func quoteJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = schema.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func selectedTable(name string, include, exclude []string) bool {
	if len(include) > 0 && !contains(include, name) {
		return false
	}
	return !contains(exclude, name)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// newRunID returns a time-ordered token correlating logs and API responses
// for one run.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
