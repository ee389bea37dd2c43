package handler

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/zlog"
)

func SetupRouter(h *Handler, lessonWS http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/lessons", h.CreateLesson)
	mux.HandleFunc("GET /api/v1/tasks", h.ListTasks)
	mux.HandleFunc("GET /api/v1/tasks/", h.GetTaskStatus)
	mux.HandleFunc("DELETE /api/v1/tasks/", h.CancelTask)
	mux.HandleFunc("GET /ws/lessons", lessonWS)
	return mux
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zlog.Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
