package api

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
	"github.com/teleclinic/teleclinic/internal/config"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/server"
	"github.com/teleclinic/teleclinic/internal/types"
)

// TeleclinicApp is the HTTP surface: session endpoints, the directory
// and history reads, the admin doctor endpoints, and the websocket
// upgrade that hands connections to the SignalServer.
type TeleclinicApp struct {
	log            *logrus.Logger
	db             database.Repository
	mux            *http.Server
	ss             *server.SignalServer
	registry       *server.PresenceRegistry
	signingKey     []byte
	validate       *validator.Validate
	allowedOrigins []string
}

func NewTeleclinicApp(mux *http.ServeMux, logger *logrus.Logger, ss *server.SignalServer,
	registry *server.PresenceRegistry, db database.Repository, cfg *config.Config) *TeleclinicApp {

	s := &TeleclinicApp{
		log:            logger,
		db:             db,
		ss:             ss,
		registry:       registry,
		signingKey:     cfg.SigningKey,
		validate:       validator.New(),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("POST /api/admin/doctors", s.requireRole(types.RoleAdmin, s.createDoctor))
	mux.HandleFunc("GET /api/admin/doctors", s.requireRole(types.RoleAdmin, s.listDoctors))
	mux.HandleFunc("DELETE /api/admin/doctors/{id}", s.requireRole(types.RoleAdmin, s.deleteDoctor))
	mux.HandleFunc("GET /api/doctors", s.authMiddleware(s.onlineDoctors))
	mux.HandleFunc("GET /api/doctor/patients", s.requireRole(types.RoleDoctor, s.doctorPatients))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthCheck)

	handler := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowCredentials(),
	)(s.errorHandler(mux))

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: handlers.LoggingHandler(logger.Writer(), handler),
	}

	return s
}

func (s *TeleclinicApp) Start() error {
	s.log.Printf("starting server on %s", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *TeleclinicApp) Shutdown(ctx context.Context) error {
	return s.mux.Shutdown(ctx)
}
