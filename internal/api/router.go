package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", app.CreateSessionHandler)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", app.SessionHandler)
			r.Get("/events", app.SessionEventsHandler)
			r.Post("/images", app.NextPassHandler)
			r.Post("/validate-objects", app.ValidateObjectsHandler)
			r.Post("/confirm-products", app.ConfirmProductsHandler)
			r.Post("/skip/{productID}", app.SkipItemHandler)
			r.Post("/cancel", app.CancelSessionHandler)
			r.Post("/retry", app.RetrySessionHandler)
		})
		r.Get("/uploads/{filename}", app.UploadHandler)
		r.Delete("/uploads/{filename}", app.DeleteUploadHandler)
		r.Post("/videos/extract", app.ExtractVideoHandler)
	})

	return r
}
