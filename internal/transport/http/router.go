package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"interview-battle-service/internal/app"
	"interview-battle-service/internal/domain"
)

// NewRouter mounts the websocket endpoint and the read-only REST surface.
func NewRouter(service *app.InterviewService, ws *WSHandler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodHead, http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": service.Stats().Sessions})
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, service.Stats())
	})
	r.Get("/ws", ws.ServeWS)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
			snap, err := service.Snapshot(r.Context(), chi.URLParam(r, "sessionID"), "")
			respond(w, snap, err)
		})
		r.Get("/scores", func(w http.ResponseWriter, r *http.Request) {
			scores, err := service.Scores(r.Context(), chi.URLParam(r, "sessionID"))
			respond(w, scores, err)
		})
		r.Get("/results", func(w http.ResponseWriter, r *http.Request) {
			results, err := service.Results(r.Context(), chi.URLParam(r, "sessionID"))
			respond(w, results, err)
		})
	})
	return r
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionNotEnded):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("session read failed")
	}
	writeJSON(w, status, errorResponse{Code: ErrorCode(err), Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		}()

		next.ServeHTTP(ww, r)
	})
}
