// Package server exposes schema and data synchronization over HTTP.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/roach88/dbsync/internal/apply"
	"github.com/roach88/dbsync/internal/datasync"
	"github.com/roach88/dbsync/internal/dburl"
	"github.com/roach88/dbsync/internal/diff"
	"github.com/roach88/dbsync/internal/schema"
)

// Server handles sync requests over HTTP.
type Server struct {
	cfg  Config
	log  *slog.Logger
	http *http.Server
}

// New builds a Server. A nil logger falls back to slog.Default().
func New(cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, log: log}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Handler returns the route table. Exposed separately so tests can
// drive it through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/plan", s.handlePlan)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/conflicts", s.handleConflicts)
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

type syncRequest struct {
	SourceURL  string   `json:"source_url"`
	TargetURL  string   `json:"target_url"`
	PKStrategy string   `json:"pk_strategy"`
	BatchSize  int      `json:"batch_size"`
	Include    []string `json:"include"`
	Exclude    []string `json:"exclude"`
}

type fieldError struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}

type syncResponse struct {
	Status       string          `json:"status"`
	SchemaSynced bool            `json:"schema_synced"`
	DataSynced   bool            `json:"data_synced"`
	PKStrategy   string          `json:"pk_strategy"`
	RunID        string          `json:"run_id"`
	Stats        *datasync.Stats `json:"stats,omitempty"`
}

type planResponse struct {
	Status   string         `json:"status"`
	Empty    bool           `json:"empty"`
	Changes  int            `json:"changes"`
	Plan     *diff.Plan     `json:"plan"`
	Warnings []diff.Warning `json:"warnings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	source, target, cleanup, ok := s.openPair(w, req)
	if !ok {
		return
	}
	defer cleanup()

	srcSchema, tgtSchema, err := inspectPair(r.Context(), source, target)
	if err != nil {
		s.fail(w, "plan", err)
		return
	}
	plan := diff.Analyze(srcSchema, tgtSchema)
	writeJSON(w, http.StatusOK, planResponse{
		Status:   "success",
		Empty:    plan.Empty(),
		Changes:  plan.ChangeCount(),
		Plan:     plan,
		Warnings: plan.Warnings,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	if req.PKStrategy == "" {
		req.PKStrategy = string(datasync.StrategySkip)
	}
	strategy, err := datasync.ParseStrategy(req.PKStrategy)
	if err != nil {
		writeValidationError(w, fieldError{Loc: []string{"body", "pk_strategy"}, Msg: err.Error()})
		return
	}
	source, target, cleanup, ok := s.openPair(w, req)
	if !ok {
		return
	}
	defer cleanup()

	ctx := r.Context()
	srcSchema, tgtSchema, err := inspectPair(ctx, source, target)
	if err != nil {
		s.fail(w, "sync", err)
		return
	}

	plan := diff.Analyze(srcSchema, tgtSchema)
	applier := apply.New(target.db, target.target.Dialect, s.log)
	if _, err := applier.Apply(ctx, srcSchema, plan); err != nil {
		s.fail(w, "sync", err)
		return
	}

	opts := datasync.DefaultOptions()
	opts.Strategy = strategy
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	opts.Include = req.Include
	opts.Exclude = req.Exclude

	syncer := datasync.New(source.db, source.target.Dialect, target.db, target.target.Dialect, s.log)
	stats, err := syncer.Sync(ctx, opts)
	if err != nil {
		s.fail(w, "sync", err)
		return
	}
	applier.RealignSequences(ctx, source.db, srcSchema)

	writeJSON(w, http.StatusOK, syncResponse{
		Status:       "success",
		SchemaSynced: true,
		DataSynced:   true,
		PKStrategy:   string(strategy),
		RunID:        stats.RunID,
		Stats:        stats,
	})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	source, target, cleanup, ok := s.openPair(w, req)
	if !ok {
		return
	}
	defer cleanup()

	syncer := datasync.New(source.db, source.target.Dialect, target.db, target.target.Dialect, s.log)
	report, err := syncer.Conflicts(r.Context())
	if err != nil {
		s.fail(w, "conflicts", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// conn pairs a live connection with its parsed target.
type conn struct {
	db     *sql.DB
	target dburl.Target
}

func (s *Server) openPair(w http.ResponseWriter, req syncRequest) (source, target conn, cleanup func(), ok bool) {
	srcDB, srcTarget, err := dburl.Open(req.SourceURL)
	if err != nil {
		writeValidationError(w, fieldError{Loc: []string{"body", "source_url"}, Msg: err.Error()})
		return conn{}, conn{}, nil, false
	}
	tgtDB, tgtTarget, err := dburl.Open(req.TargetURL)
	if err != nil {
		srcDB.Close()
		writeValidationError(w, fieldError{Loc: []string{"body", "target_url"}, Msg: err.Error()})
		return conn{}, conn{}, nil, false
	}
	cleanup = func() {
		srcDB.Close()
		tgtDB.Close()
	}
	return conn{db: srcDB, target: srcTarget}, conn{db: tgtDB, target: tgtTarget}, cleanup, true
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (syncRequest, bool) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, fieldError{Loc: []string{"body"}, Msg: "invalid JSON body"})
		return req, false
	}
	var errs []fieldError
	if strings.TrimSpace(req.SourceURL) == "" {
		errs = append(errs, fieldError{Loc: []string{"body", "source_url"}, Msg: "field required"})
	}
	if strings.TrimSpace(req.TargetURL) == "" {
		errs = append(errs, fieldError{Loc: []string{"body", "target_url"}, Msg: "field required"})
	}
	if len(errs) > 0 {
		writeValidationError(w, errs...)
		return req, false
	}
	return req, true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", "op", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"detail": "Sync failed. Check logs.",
	})
}

func inspectPair(ctx context.Context, source, target conn) (*schema.Schema, *schema.Schema, error) {
	srcInspector, err := schema.NewInspector(source.db, source.target.Dialect)
	if err != nil {
		return nil, nil, err
	}
	tgtInspector, err := schema.NewInspector(target.db, target.target.Dialect)
	if err != nil {
		return nil, nil, err
	}
	srcSchema, err := srcInspector.Inspect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("inspect source: %w", err)
	}
	tgtSchema, err := tgtInspector.Inspect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("inspect target: %w", err)
	}
	return srcSchema, tgtSchema, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeValidationError(w http.ResponseWriter, errs ...fieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": errs})
}
