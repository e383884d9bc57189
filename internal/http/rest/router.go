package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Vic92548/vapr-companion/internal/telemetry"
)

// NewRouter assembles the launcher API.
func NewRouter(downloads *DownloadHandler, sdkHandler *SDKHandler, tel *telemetry.Telemetry) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", tel.Handler())

	r.Mount("/downloads", downloads.Routes())
	r.Mount("/sdk", sdkHandler.Routes())

	return r
}
