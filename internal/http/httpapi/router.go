package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	appmw "server/internal/middleware"
)

// Options carries the router-level configuration not owned by the handlers.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	StaticDir      string
	Logger         infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		appmw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		appmw.Logger(opts.Logger),
		appmw.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(appmw.AuthJWT(opts.JWTSecret))
		r.Post("/", app.GenerationsCreate)
		r.Get("/{task_id}", app.GenerationsStatus)
		r.Post("/{task_id}/ingest", app.GenerationsIngest)
		r.Get("/{task_id}/tracks", app.GenerationTracks)
		r.Get("/{task_id}/archive", app.GenerationArchive)
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
