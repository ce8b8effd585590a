package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manpreetbhatti/scribble/internal/ratelimit"
	"github.com/manpreetbhatti/scribble/internal/ws"
)

// SetupRoutes builds the HTTP surface. limiters may be nil to disable rate
// limiting of /api and /ws.
func SetupRoutes(a *API, limiters *ratelimit.ClientLimiters) http.Handler {
	r := mux.NewRouter()
	r.Use(TracingMiddleware, RecoveryMiddleware)

	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	var wsHandler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(a.hub, w, r)
	})
	if limiters != nil {
		// Each upgrade may open a room
		wsHandler = RateLimitMiddleware(limiters)(wsHandler)
	}
	r.Handle("/ws", wsHandler)

	apiRouter := r.PathPrefix("/api").Subrouter()
	if limiters != nil {
		apiRouter.Use(RateLimitMiddleware(limiters))
	}

	apiRouter.HandleFunc("/stats", a.StatsHandler).Methods("GET")

	apiRouter.HandleFunc("/rooms", a.ListRoomsHandler).Methods("GET")
	apiRouter.HandleFunc("/rooms/{id}", a.GetRoomHandler).Methods("GET")
	apiRouter.HandleFunc("/rooms/{id}", a.DeleteRoomHandler).Methods("DELETE")
	apiRouter.HandleFunc("/rooms/{id}/history", a.HistoryHandler).Methods("GET")
	apiRouter.HandleFunc("/rooms/{id}/events", a.EventsHandler).Methods("GET")
	apiRouter.HandleFunc("/rooms/{id}/export.pdf", a.ExportPDFHandler).Methods("GET")

	apiRouter.HandleFunc("/checkpoints", a.ListCheckpointsHandler).Methods("GET")
	apiRouter.HandleFunc("/checkpoints", a.CreateCheckpointHandler).Methods("POST")
	apiRouter.HandleFunc("/checkpoints/diff", a.DiffCheckpointsHandler).Methods("GET")
	apiRouter.HandleFunc("/checkpoints/{id:[0-9]+}", a.GetCheckpointHandler).Methods("GET")
	apiRouter.HandleFunc("/checkpoints/{id:[0-9]+}", a.DeleteCheckpointHandler).Methods("DELETE")

	// mux answers OPTIONS with 405 before middleware runs
	return CORSMiddleware(r)
}
