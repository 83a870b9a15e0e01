// Package seed runs raw SQL fixture scripts against a live database.
//
// A fixture script is a flat sequence of DDL and INSERT statements used to
// put a database into a known state for tests or demos. Scripts from the
// wild are often defective (tables re-declared under new shapes, primary
// keys reused), so the runner supports a continue-on-error mode that
// executes every statement and reports failures per statement instead of
// stopping at the first one.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Result records the outcome of one executed statement.
type Result struct {
	// Statement is the SQL text, trimmed.
	Statement string
	// Err is nil when the statement succeeded.
	Err error
}

// Stats summarizes a script run.
type Stats struct {
	Executed int
	Failed   int
}

// Options controls how a script is executed.
type Options struct {
	// ContinueOnError executes all statements and collects failures.
	// When false, the first failing statement stops the run.
	ContinueOnError bool
}

// Run splits the script into statements and executes them in order.
//
// With ContinueOnError unset, the returned error is the first statement
// failure and the results cover only the statements attempted. With it set,
// the error is nil unless the context is cancelled; failures live in the
// results.
func Run(ctx context.Context, db *sql.DB, script string, opts Options) ([]Result, Stats, error) {
	var (
		results []Result
		stats   Stats
	)

	for _, stmt := range SplitStatements(script) {
		if err := ctx.Err(); err != nil {
			return results, stats, err
		}

		r := Result{Statement: stmt}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			r.Err = err
			stats.Failed++
			results = append(results, r)
			if !opts.ContinueOnError {
				return results, stats, fmt.Errorf("statement %d failed: %w", stats.Executed+stats.Failed, err)
			}
			continue
		}
		stats.Executed++
		results = append(results, r)
	}

	return results, stats, nil
}

// SplitStatements splits a SQL script on semicolons, respecting single- and
// double-quoted strings, line comments (--) and block comments (/* */).
// Comments and empty fragments are dropped; statements keep their inner
// formatting but are trimmed at the edges.
func SplitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
	)

	const (
		plain = iota
		inSingle
		inDouble
		inLineComment
		inBlockComment
	)
	state := plain

	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s != "" {
			stmts = append(stmts, s)
		}
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case plain:
			switch {
			case c == '-' && next == '-':
				state = inLineComment
				i++
			case c == '/' && next == '*':
				state = inBlockComment
				i++
			case c == '\'':
				state = inSingle
				current.WriteRune(c)
			case c == '"':
				state = inDouble
				current.WriteRune(c)
			case c == ';':
				flush()
			default:
				current.WriteRune(c)
			}

		case inSingle:
			current.WriteRune(c)
			if c == '\'' {
				// '' is an escaped quote, stay inside the string.
				if next == '\'' {
					current.WriteRune(next)
					i++
				} else {
					state = plain
				}
			}

		case inDouble:
			current.WriteRune(c)
			if c == '"' {
				state = plain
			}

		case inLineComment:
			if c == '\n' {
				state = plain
				current.WriteRune(c)
			}

		case inBlockComment:
			if c == '*' && next == '/' {
				state = plain
				i++
			}
		}
	}
	flush()

	return stmts
}
