package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lherron/redline/internal/config"
	"github.com/lherron/redline/internal/db"
	"github.com/lherron/redline/internal/diff"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/logging"
	"github.com/lherron/redline/internal/merge"
	"github.com/lherron/redline/internal/segment"
	"github.com/lherron/redline/internal/session"
	"github.com/lherron/redline/internal/store"
	"github.com/lherron/redline/internal/webhooks"
)

// DaemonOptions configures the redlined daemon.
type DaemonOptions struct {
	Addr   string
	Unix   string
	Token  string
	DBPath string
}

// ServeDaemon starts the redlined daemon and blocks until it is stopped
// by SIGINT or SIGTERM.
func ServeDaemon(opts DaemonOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.Token == "" {
		opts.Token = cfg.DaemonToken
	}
	if opts.Addr == "" {
		opts.Addr = cfg.DaemonAddr
	}

	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.RequiresMigrationError(); err != nil {
		return err
	}

	server := newDaemonServer(store.New(database), cfg, opts.Token, log)
	httpServer := &http.Server{
		Handler:      server.handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	var listener net.Listener
	if opts.Unix != "" {
		_ = os.Remove(opts.Unix)
		listener, err = net.Listen("unix", opts.Unix)
	} else {
		listener, err = net.Listen("tcp", opts.Addr)
	}
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("redlined listening", "addr", listener.Addr().String(), "db", cfg.DBPath, "auth", opts.Token != "")
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

type daemonServer struct {
	merges *mergeService
	store  *store.Store
	cfg    *config.Config
	token  string
	log    *slog.Logger
}

func newDaemonServer(st *store.Store, cfg *config.Config, token string, log *slog.Logger) *daemonServer {
	hooks := webhooks.New(cfg.WebhookURLs, log)
	return &daemonServer{
		merges: newMergeService(st, hooks, log),
		store:  st,
		cfg:    cfg,
		token:  token,
		log:    log,
	}
}

func (s *daemonServer) handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.withLogging(mux)
}

func (s *daemonServer) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/health", s.withAuth(s.handleHealth))
	mux.HandleFunc("/v1/compare", s.withAuth(s.handleCompare))

	mux.HandleFunc("/v1/merges/start", s.withAuth(s.handleMergeStart))
	mux.HandleFunc("/v1/merges/preview", s.withAuth(s.handleMergePreview))
	mux.HandleFunc("/v1/merges/status", s.withAuth(s.handleMergeStatus))
	mux.HandleFunc("/v1/merges/conflicts", s.withAuth(s.handleMergeConflicts))
	mux.HandleFunc("/v1/merges/resolve", s.withAuth(s.handleMergeResolve))
	mux.HandleFunc("/v1/merges/resolve-bulk", s.withAuth(s.handleMergeResolveBulk))
	mux.HandleFunc("/v1/merges/finalize", s.withAuth(s.handleMergeFinalize))
	mux.HandleFunc("/v1/merges/cancel", s.withAuth(s.handleMergeCancel))
	mux.HandleFunc("/v1/merges/list", s.withAuth(s.handleMergeList))
	mux.HandleFunc("/v1/merges/events", s.withAuth(s.handleMergeEvents))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *daemonServer) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *daemonServer) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" {
				token = r.Header.Get("X-Redline-Token")
			}
			if token != s.token {
				s.writeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
				return
			}
		}
		next(w, r)
	}
}

// requirePost rejects other methods and decodes an optional JSON body
func (s *daemonServer) requirePost(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return false
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *daemonServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *daemonServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{
		"message": err.Error(),
	})
}

// writeDomainError maps classified errors onto HTTP statuses
func (s *daemonServer) writeDomainError(w http.ResponseWriter, err error) {
	var mismatch *domain.ETagMismatchError
	if errors.As(err, &mismatch) {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"code":    "ETAG_MISMATCH",
			"message": err.Error(),
			"etag":    mismatch.Actual,
		})
		return
	}

	var derr *domain.Error
	if !errors.As(err, &derr) {
		s.log.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	body := map[string]interface{}{
		"code":    derr.Code,
		"message": derr.Message,
	}
	status := http.StatusInternalServerError
	switch derr.Code {
	case domain.CodeInvalidInput:
		status = http.StatusBadRequest
	case domain.CodeConflictState:
		status = http.StatusConflict
		body["status"] = derr.Status
	case domain.CodeAlignment:
		status = http.StatusUnprocessableEntity
	case domain.CodeNotFound:
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, body)
}

func (s *daemonServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

type compareRequest struct {
	Original      string        `json:"original"`
	Modified      string        `json:"modified"`
	OriginalLabel string        `json:"original_label,omitempty"`
	ModifiedLabel string        `json:"modified_label,omitempty"`
	Mode          string        `json:"mode,omitempty"`
	Options       *diff.Options `json:"options,omitempty"`
	Save          bool          `json:"save,omitempty"`
	KeepChanges   bool          `json:"keep_changes,omitempty"`
}

func (s *daemonServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if !s.requirePost(w, r, &req) {
		return
	}

	g := s.cfg.DefaultGranularity()
	if req.Mode != "" {
		var err error
		if g, err = segment.ParseGranularity(req.Mode); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	opts := s.cfg.DiffOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	result, err := diff.CompareText(req.Original, req.Modified, g, opts, nil)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	v := &ComparisonView{OriginalLabel: req.OriginalLabel, ModifiedLabel: req.ModifiedLabel, Result: result}
	if req.Save {
		row, err := s.store.Comparisons.Create(store.ComparisonParams{
			OriginalLabel: req.OriginalLabel,
			ModifiedLabel: req.ModifiedLabel,
			Result:        result,
			KeepChanges:   req.KeepChanges,
		})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		v.ID = row.ID
	}
	s.writeJSON(w, http.StatusOK, v)
}

type mergeInputRequest struct {
	Versions     []merge.Version `json:"versions"`
	BaseSourceID string          `json:"base_source_id,omitempty"`
	Granularity  string          `json:"granularity,omitempty"`
	Strategy     string          `json:"strategy,omitempty"`
	Options      *diff.Options   `json:"options,omitempty"`
}

func (s *daemonServer) mergeInput(req mergeInputRequest) (merge.Input, error) {
	in := merge.Input{
		Versions:     req.Versions,
		BaseSourceID: req.BaseSourceID,
		Granularity:  s.cfg.DefaultGranularity(),
		Strategy:     s.cfg.DefaultStrategy(),
		Options:      s.cfg.DiffOptions(),
	}
	var err error
	if req.Granularity != "" {
		if in.Granularity, err = segment.ParseGranularity(req.Granularity); err != nil {
			return in, err
		}
	}
	if req.Strategy != "" {
		if in.Strategy, err = merge.ParseStrategy(req.Strategy); err != nil {
			return in, err
		}
	}
	if req.Options != nil {
		in.Options = *req.Options
	}
	return in, nil
}

func (s *daemonServer) handleMergeStart(w http.ResponseWriter, r *http.Request) {
	var req mergeInputRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	in, err := s.mergeInput(req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	v, err := s.merges.Start(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, v)
}

func (s *daemonServer) handleMergePreview(w http.ResponseWriter, r *http.Request) {
	var req mergeInputRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	in, err := s.mergeInput(req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	plan, err := s.merges.Preview(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

type mergeRefRequest struct {
	ID      string `json:"id"`
	IfMatch int64  `json:"if_match,omitempty"`
}

func (s *daemonServer) handleMergeStatus(w http.ResponseWriter, r *http.Request) {
	var req mergeRefRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	v, err := s.merges.Status(req.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *daemonServer) handleMergeConflicts(w http.ResponseWriter, r *http.Request) {
	var req mergeRefRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	conflicts, err := s.merges.Conflicts(req.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": conflicts})
}

type resolveRequest struct {
	ID            string `json:"id"`
	ConflictIndex *int   `json:"conflict_index"`
	VariantIndex  *int   `json:"variant_index"`
	IfMatch       int64  `json:"if_match,omitempty"`
}

func (s *daemonServer) handleMergeResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	if req.ConflictIndex == nil || req.VariantIndex == nil {
		s.writeDomainError(w, domain.Invalid("conflict_index and variant_index are required"))
		return
	}
	v, err := s.merges.Resolve(req.ID, *req.ConflictIndex, *req.VariantIndex, req.IfMatch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

type resolveBulkRequest struct {
	ID          string               `json:"id"`
	Resolutions []session.Resolution `json:"resolutions"`
	IfMatch     int64                `json:"if_match,omitempty"`
}

func (s *daemonServer) handleMergeResolveBulk(w http.ResponseWriter, r *http.Request) {
	var req resolveBulkRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	v, err := s.merges.ResolveBulk(req.ID, req.Resolutions, req.IfMatch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

type finalizeRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	IfMatch int64  `json:"if_match,omitempty"`
}

func (s *daemonServer) handleMergeFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	res, err := s.merges.Finalize(req.ID, req.Name, req.IfMatch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *daemonServer) handleMergeCancel(w http.ResponseWriter, r *http.Request) {
	var req mergeRefRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	v, err := s.merges.Cancel(req.ID, req.IfMatch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

type listRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

func (s *daemonServer) handleMergeList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	rows, next, err := s.merges.List(store.ListParams{
		Status: domain.MergeStatus(strings.ToUpper(req.Status)),
		Limit:  req.Limit,
		Cursor: req.Cursor,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if rows == nil {
		rows = []domain.MergeSession{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"merges":      rows,
		"next_cursor": next,
	})
}

func (s *daemonServer) handleMergeEvents(w http.ResponseWriter, r *http.Request) {
	var req mergeRefRequest
	if !s.requirePost(w, r, &req) {
		return
	}
	evs, err := s.merges.Events(req.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": evs})
}
