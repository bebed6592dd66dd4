package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/relieftrack/activity-import/internal/ingest"
	"github.com/relieftrack/activity-import/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the import API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		im := newImporter(st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st, im),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newRouter(st store.Store, im *ingest.Importer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "X-Actor"},
	}))

	stageLimiter := rate.NewLimiter(rate.Limit(cfg.Server.StageRate), cfg.Server.StageBurst)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/import/stage", func(w http.ResponseWriter, r *http.Request) {
		if !stageLimiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many uploads, slow down")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxUploadBytes)
		if err := r.ParseMultipartForm(cfg.Server.MaxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart upload")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()

		sess, sum, err := im.Stage(r.Context(), actorFrom(r), file, header.Filename)
		if err != nil {
			zap.L().Warn("stage failed", zap.String("file", header.Filename), zap.Error(err))
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sess.ID,
			"file":       sess.OriginalName,
			"summary":    sum,
		})
	})

	r.Get("/import/summary", func(w http.ResponseWriter, r *http.Request) {
		sum, err := im.Summary(r.Context(), actorFrom(r))
		if err != nil {
			if errors.Is(err, ingest.ErrNoSession) {
				writeError(w, http.StatusNotFound, "no staged upload")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sum)
	})

	r.Post("/import/commit", func(w http.ResponseWriter, r *http.Request) {
		var dec ingest.Decisions
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&dec); err != nil {
				writeError(w, http.StatusBadRequest, "invalid decisions body")
				return
			}
		}

		actor := actorFrom(r)
		result, err := im.Commit(r.Context(), actor, actor, &dec)
		if err != nil {
			switch {
			case errors.Is(err, ingest.ErrNoSession):
				writeError(w, http.StatusNotFound, "no staged upload")
			case errors.Is(err, ingest.ErrHardBlocked):
				writeError(w, http.StatusConflict, "upload has unresolved statuses")
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Delete("/import/stage", func(w http.ResponseWriter, r *http.Request) {
		im.Discard(actorFrom(r))
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/template", func(w http.ResponseWriter, r *http.Request) {
		// The status is committed on the first body write, so the
		// workbook is rendered fully before anything reaches the wire.
		var buf bytes.Buffer
		if err := ingest.WriteTemplate(r.Context(), st, &buf); err != nil {
			zap.L().Error("template generation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "template generation failed")
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="activity_template.xlsx"`)
		_, _ = buf.WriteTo(w)
	})

	return r
}

// actorFrom identifies the caller for session ownership and the audit
// log: the X-Actor header when present, otherwise the remote host.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
