package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/kindled-app/kindled/internal/config"
	"github.com/kindled-app/kindled/internal/logger"
)

// Registrar is a common interface for all route registrars.
type Registrar interface {
	Register(r *mux.Router)
}

// StartHTTPServer boots the gateway and registers all provided services.
func StartHTTPServer(cfg *config.Config, registrars ...Registrar) error {
	router := mux.NewRouter()
	router.Use(requestLogging)

	for _, r := range registrars {
		r.Register(router)
	}

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	addr := fmt.Sprintf("%s:%s", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
