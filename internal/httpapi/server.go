// Package httpapi serves the customer facing JSON and streaming API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/limiter"
	"github.com/digkill/WeddingAI/internal/service"
	"github.com/digkill/WeddingAI/internal/worker"
)

type Deps struct {
	Log         zerolog.Logger
	Users       *service.UserService
	Ledger      service.Ledger
	Generations *service.GenerationService
	Jobs        *service.JobService
	References  *service.ReferenceService
	Promos      *service.PromoService
	Plans       *service.PlanService
	Pool        *worker.Pool
	Limiter     *limiter.Limiter

	JWTSecret      string
	AllowedOrigins []string
	MaxUploadBytes int64
	// AssetsDir is served under /assets when assets live on local disk.
	AssetsDir string
}

type Server struct {
	addr   string
	deps   Deps
	log    zerolog.Logger
	router *chi.Mux
}

func NewServer(addr string, deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = service.DefaultMaxUploadBytes
	}
	s := &Server{addr: addr, deps: deps, log: deps.Log.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.AssetsDir != "" {
		r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.Dir(deps.AssetsDir))))
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/plans", s.handleListPlans)

		api.Group(func(auth chi.Router) {
			auth.Use(s.authenticate)

			auth.Get("/me", s.handleMe)
			auth.Get("/credits", s.handleBalance)
			auth.Get("/credits/transactions", s.handleTransactions)
			auth.Post("/promo/redeem", s.handleRedeemPromo)

			auth.Get("/reference-photos", s.handleListReferences)
			auth.Get("/generations", s.handleListGenerations)
			auth.Get("/jobs", s.handleListJobs)
			auth.Get("/jobs/{id}", s.handleGetJob)
			auth.Post("/jobs/{id}/complete", s.handleCompleteJob)

			auth.Group(func(limited chi.Router) {
				limited.Use(s.rateLimit)
				limited.Post("/reference-photos", s.handleUploadReference)
				limited.Post("/generations", s.handleGenerate)
				limited.Post("/generations/stream", s.handleGenerateStream)
				limited.Post("/jobs", s.handleCreateJob)
				limited.Post("/jobs/stream", s.handleCreateJobStream)
			})
		})
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("api shutdown error")
		}
	}()

	s.log.Info().Str("addr", s.addr).Msg("api listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}
