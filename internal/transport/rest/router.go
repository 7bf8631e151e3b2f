package rest

import (
	"net/http"
	"strings"

	"perfassess/internal/platform/logger"
	"perfassess/internal/service"
	"perfassess/internal/transport/rest/handler"
	"perfassess/internal/transport/rest/middleware"
	"perfassess/internal/transport/ws"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService        *service.AuthService
	Sessions           handler.SessionService
	WSHub              *ws.Hub
	Log                *logger.Logger
	CORSAllowedOrigins []string
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	log := c.Log
	if log == nil {
		log = logger.NewNop()
	}
	r := mux.NewRouter()

	authHandler := handler.NewAuthHandler(c.AuthService)
	sessionHandler := handler.NewSessionHandler(c.Sessions)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.Sessions, log)

	authMW := middleware.NewAuthMiddleware(c.AuthService)

	r.Use(middleware.Recover(log))
	r.Use(middleware.AccessLog(log))
	r.Use(corsMiddleware(c.CORSAllowedOrigins))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	// WebSocket routes (token in query param)
	v1.HandleFunc("/ws/sessions/{id}/observer", wsHandler.ObserverWS).Methods("GET")

	// Observer routes
	observer := v1.NewRoute().Subrouter()
	observer.Use(authMW.RequireObserver)

	observer.HandleFunc("/sessions", sessionHandler.Create).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions", sessionHandler.List).Methods("GET", "OPTIONS")
	observer.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/start", sessionHandler.Start).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/end", sessionHandler.End).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/messages", sessionHandler.Message).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/conversation", sessionHandler.Conversation).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/surveys", sessionHandler.Survey).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/evaluator", sessionHandler.Evaluator).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/strategies", sessionHandler.Strategy).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/assessments", sessionHandler.Assessment).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/assessments/{node}", sessionHandler.Assessment).Methods("POST", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/snapshot", sessionHandler.Snapshot).Methods("GET", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/score", sessionHandler.Score).Methods("GET", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/attention", sessionHandler.Attention).Methods("GET", "OPTIONS")
	observer.HandleFunc("/sessions/{id}/overrides", sessionHandler.Overrides).Methods("GET", "OPTIONS")

	return r
}

// corsMiddleware allows the configured origins, or any origin when none are
// configured
func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[strings.TrimSpace(o)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(origins) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origins[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
