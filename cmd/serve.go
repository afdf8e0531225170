package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"github.com/sells-group/contract-payments/internal/clarify"
	"github.com/sells-group/contract-payments/internal/pdftext"
	"github.com/sells-group/contract-payments/internal/processor"
	"github.com/sells-group/contract-payments/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for uploads and clarifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		router := buildRouter(env, cfg.Extract.MaxFileBytes)
		return startServer(ctx, router, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler until ctx is cancelled, then shuts down.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

type api struct {
	env      *appEnv
	maxBytes int64
}

// buildRouter wires the HTTP routes. maxBytes caps uploads.
func buildRouter(env *appEnv, maxBytes int64) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	a := &api{env: env, maxBytes: maxBytes}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/contracts", a.upload)
	r.Route("/contracts/{id}", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/clarifications", a.listClarifications)
		r.Post("/clarifications/apply", a.applyClarifications)
	})
	r.Post("/clarifications/{id}/answer", a.answer)
	return r
}

func (a *api) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(file, a.maxBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	if int64(len(data)) > a.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", a.maxBytes))
		return
	}

	res, err := a.env.Processor.ProcessBytes(r.Context(), header.Filename, data)
	if err != nil {
		writeFailure(w, err)
		return
	}
	status := http.StatusCreated
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	report, err := a.env.Processor.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) listClarifications(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.env.Store.GetContract(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	unanswered, _ := strconv.ParseBool(r.URL.Query().Get("unanswered"))
	list, err := a.env.Store.ListClarifications(r.Context(), id, unanswered)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contract_id": id, "clarifications": list})
}

func (a *api) answer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := a.env.Resolver.Answer(r.Context(), chi.URLParam(r, "id"), req.Answer)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) applyClarifications(w http.ResponseWriter, r *http.Request) {
	res, err := a.env.Resolver.Apply(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeFailure maps domain errors onto HTTP status codes.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, clarify.ErrEmptyAnswer):
		writeError(w, http.StatusBadRequest, "answer is required")
	case errors.Is(err, store.ErrDuplicateContractNumber):
		writeError(w, http.StatusConflict, "contract number already exists")
	case errors.Is(err, pdftext.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, pdftext.ErrNotPDF), errors.Is(err, pdftext.ErrEmptyFile):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, processor.ErrNotReprocessable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
