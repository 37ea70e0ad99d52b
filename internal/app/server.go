package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/Rehearsal/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Rehearsal/internal/api/middlewares"
	"github.com/markdave123-py/Rehearsal/internal/api/respond"
	"github.com/markdave123-py/Rehearsal/internal/config"
	"github.com/markdave123-py/Rehearsal/internal/core/apperr"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

// Services is everything the router dispatches to.
type Services struct {
	Identity    *services.IdentityService
	Users       *services.UserService
	Documents   *services.DocumentService
	Scenarios   *services.ScenarioService
	Assignments *services.AssignmentService
	Sessions    *services.SessionService
	Evaluations *services.EvaluationService
	Flags       *services.FlagService
	Voice       *services.VoiceService
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, svc Services, health pinger, log *logger.Logger) *Server {
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, svc, health, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv, log: log}
}

func NewRouter(cfg *config.Config, svc Services, health pinger, log *logger.Logger) http.Handler {
	gate := appMiddleware.NewIdentity(svc.Identity, log)

	userHandler := handlers.NewUserHandler(svc.Users, log)
	docHandler := handlers.NewDocumentHandler(svc.Documents, log)
	scenarioHandler := handlers.NewScenarioHandler(svc.Scenarios, log)
	assignmentHandler := handlers.NewAssignmentHandler(svc.Assignments, log)
	sessionHandler := handlers.NewSessionHandler(svc.Sessions, log)
	chatHandler := handlers.NewChatHandler(svc.Sessions, log)
	evalHandler := handlers.NewEvaluationHandler(svc.Evaluations, log)
	flagHandler := handlers.NewFlagHandler(svc.Flags, log)
	internalHandler := handlers.NewInternalHandler(svc.Sessions, log)
	voiceHandler := handlers.NewVoiceHandler(svc.Voice, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", appMiddleware.HeaderUserID, appMiddleware.HeaderAPIKey},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := health.Ping(ctx); err != nil {
			respond.Error(w, r, log, apperr.Internal("healthz", err))
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Group(func(user chi.Router) {
			user.Use(gate.RequireUser)

			user.Get("/me", userHandler.Me)
			user.Get("/accounts/{id}", userHandler.GetAccount)

			user.Get("/scenarios", scenarioHandler.List)
			user.Get("/scenarios/{id}", scenarioHandler.Get)

			user.Get("/assignments", assignmentHandler.List)
			user.Get("/assignments/{id}", assignmentHandler.Get)

			user.Post("/voice/token", voiceHandler.Token)

			user.Post("/sessions", sessionHandler.Create)
			user.Get("/sessions", sessionHandler.List)
			user.Get("/sessions/{id}", sessionHandler.Get)
			user.Post("/sessions/{id}/end", sessionHandler.End)
			user.Post("/sessions/{id}/messages", chatHandler.SendMessage)
			user.Post("/sessions/{id}/evaluate", evalHandler.Evaluate)
			user.Get("/sessions/{id}/evaluation", evalHandler.GetForSession)
			user.Post("/sessions/{id}/flags", flagHandler.Submit)
			user.Get("/evaluations/{id}", evalHandler.Get)

			user.Group(func(sup chi.Router) {
				sup.Use(gate.RequireSupervisor)

				sup.Post("/users", userHandler.CreateUser)
				sup.Get("/users", userHandler.ListUsers)
				sup.Post("/accounts", userHandler.CreateAccount)
				sup.Post("/accounts/{id}/procedures", docHandler.UploadProcedure)

				sup.Post("/scenarios", scenarioHandler.Create)
				sup.Post("/scenarios/generate", scenarioHandler.Generate)
				sup.Put("/scenarios/{id}", scenarioHandler.Update)
				sup.Delete("/scenarios/{id}", scenarioHandler.Delete)

				sup.Post("/assignments", assignmentHandler.Create)
				sup.Post("/assignments/bulk", assignmentHandler.Bulk)
				sup.Delete("/assignments/{id}", assignmentHandler.Delete)

				sup.Get("/flags", flagHandler.List)
				sup.Patch("/flags/{id}", flagHandler.Update)
			})
		})

		api.Route("/external", func(ext chi.Router) {
			ext.Use(gate.RequirePartner)
			ext.Post("/sessions/{id}/evaluate", evalHandler.Evaluate)
			ext.Get("/assignments/{id}/evaluation", evalHandler.GetForAssignment)
		})
	})

	r.Route("/internal", func(in chi.Router) {
		in.Use(gate.RequireInternal)
		in.Post("/sessions", internalHandler.CreateSession)
		in.Put("/sessions/{id}/transcript", internalHandler.ReplaceTranscript)
		in.Post("/sessions/{id}/end", sessionHandler.End)
		in.Post("/sessions/{id}/recording", internalHandler.UploadRecording)
	})

	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
