package cli

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/roach88/dbsync/internal/dburl"
	"github.com/roach88/dbsync/internal/schema"
)

// endpoint is one side of a sync: an open connection plus its parsed target.
type endpoint struct {
	db     *sql.DB
	target dburl.Target
}

func (e *endpoint) close() {
	if err := e.db.Close(); err != nil {
		slog.Error("error closing database", "url", e.target.Redacted, "error", err)
	}
}

func (e *endpoint) inspect(ctx context.Context) (*schema.Schema, error) {
	inspector, err := schema.NewInspector(e.db, e.target.Dialect)
	if err != nil {
		return nil, err
	}
	return inspector.Inspect(ctx)
}

// openEndpoint opens a database URL, mapping failures to command errors.
func openEndpoint(raw, role string) (*endpoint, error) {
	db, target, err := dburl.Open(raw)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open "+role+" database", err)
	}
	slog.Debug("database opened", "role", role, "url", target.Redacted)
	return &endpoint{db: db, target: target}, nil
}

// openPair opens both ends of a sync. The caller must close both on success.
func openPair(sourceURL, targetURL string) (*endpoint, *endpoint, error) {
	source, err := openEndpoint(sourceURL, "source")
	if err != nil {
		return nil, nil, err
	}
	target, err := openEndpoint(targetURL, "target")
	if err != nil {
		source.close()
		return nil, nil, err
	}
	return source, target, nil
}
