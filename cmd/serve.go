package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/monitoring"
	"github.com/sells-group/geobatch/internal/resilience"
	"github.com/sells-group/geobatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.Enabled && env.Store != nil {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// processRequest is the body of POST /v1/runs. Exactly one of Input and
// Rows must be set. Input is a path under server.input_dir or a URL on an
// allowed host.
type processRequest struct {
	Input string                `json:"input"`
	Sheet string                `json:"sheet"`
	Limit int                   `json:"limit"`
	Rows  []model.AddressFields `json:"rows"`
}

func newRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(env.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: env.Server.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", handleHealth(env))

	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", handleProcess(env, newInputPolicy(env.Server)))
		r.Get("/", handleListRuns(env))
		r.Get("/{id}", handleGetRun(env))
		r.Get("/{id}/rows", handleGetRows(env))
	})
	return r
}

type healthResponse struct {
	Status          string                    `json:"status"`
	GeocoderBreaker *resilience.BreakerStatus `json:"geocoder_breaker,omitempty"`
}

// handleHealth reports "degraded" while the geocoder breaker rejects calls.
// Runs still complete in that state, with unresolved rows marked failed.
func handleHealth(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok"}
		if env.Breaker != nil {
			st := env.Breaker.Status()
			resp.GeocoderBreaker = &st
			if st.State == resilience.CircuitOpen {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleProcess(env *pipelineEnv, inputs inputPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if (req.Input == "") == (len(req.Rows) == 0) {
			writeError(w, http.StatusBadRequest, "exactly one of input or rows is required")
			return
		}

		var (
			result *model.Result
			err    error
		)
		if req.Input != "" {
			source, inErr := inputs.resolve(req.Input)
			if inErr != nil {
				zap.L().Warn("api: rejected input", zap.String("input", req.Input), zap.Error(inErr))
				writeError(w, http.StatusForbidden, inErr.Error())
				return
			}
			opts, optErr := ingestOptions(env.Ingest, req.Sheet, req.Limit)
			if optErr != nil {
				writeError(w, http.StatusInternalServerError, optErr.Error())
				return
			}
			result, err = env.Pipeline.ProcessFile(r.Context(), source, opts)
		} else {
			result, err = env.Pipeline.Process(r.Context(), rawRows(req.Rows))
		}
		if err != nil {
			zap.L().Error("api: run failed", zap.Error(err))
			status := http.StatusInternalServerError
			if errors.Is(err, ingest.ErrNoAddressColumns) {
				status = http.StatusUnprocessableEntity
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleListRuns(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Store == nil {
			writeError(w, http.StatusNotImplemented, "run store is disabled")
			return
		}
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		runs, err := env.Store.ListRuns(r.Context(), store.RunFilter{
			Status: model.RunStatus(q.Get("status")),
			Input:  q.Get("input"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Store == nil {
			writeError(w, http.StatusNotImplemented, "run store is disabled")
			return
		}
		run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleGetRows(env *pipelineEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if env.Store == nil {
			writeError(w, http.StatusNotImplemented, "run store is disabled")
			return
		}
		id := chi.URLParam(r, "id")
		if _, err := env.Store.GetRun(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		rows, err := env.Store.GetRows(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if rows == nil {
			rows = []model.ProcessedRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// rawRows turns request rows into pipeline input, indexed by position.
func rawRows(in []model.AddressFields) []model.RawRow {
	out := make([]model.RawRow, len(in))
	for i, f := range in {
		values := map[string]string{
			"address": f.Address,
			"city":    f.City,
			"state":   f.State,
			"phone":   f.Phone,
			"email":   f.Email,
		}
		out[i] = model.NewRawRow(i, values, f.Clean())
	}
	return out
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
