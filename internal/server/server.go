package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/achievehub/apiserver/config"
	"github.com/achievehub/apiserver/internal/db"
	"github.com/achievehub/apiserver/internal/db/migrations"
	"github.com/achievehub/apiserver/internal/handlers"
	"github.com/achievehub/apiserver/internal/logger"
	"github.com/achievehub/apiserver/internal/mq"
	"github.com/achievehub/apiserver/internal/services"
	"github.com/achievehub/apiserver/internal/store"
	"github.com/achievehub/apiserver/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	events     *mq.MQ
	log        *logger.Logger
}

// New constructs a Server: opens the store, applies migrations, seeds the
// admin account, and wires the routers.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logger.New("server")

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(dbConn, cfg.Database.Driver); err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	recordRepo := store.NewRecordRepository(dbConn)

	created, err := userRepo.EnsureAdmin(ctx, cfg.AdminPassword)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	if created {
		log.Info().Msg("initialized admin user with default password")
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = randomSecret()
		log.Warn().Msg("JWT_SECRET not set; refresh tokens will not survive a restart")
	}

	objectStore, err := buildStorage(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("prepare upload storage: %w", err)
	}

	events, err := buildEvents(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	sessionService := services.NewSessionService(userRepo, jwtSecret)
	recordService := services.NewRecordService(recordRepo, eventPublisher(events), log)

	authMiddleware := handlers.RequireAuth(sessionService)
	authHandler := handlers.NewAuthHandler(sessionService)
	uploadHandler := handlers.NewUploadHandler(objectStore)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Get("/uploads/*", uploadHandler.Serve)
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, sessionService)
		})
		r.With(authMiddleware).Post("/change_password", authHandler.ChangePassword)
		r.With(authMiddleware).Post("/upload", uploadHandler.Upload)
		handlers.RecordRouter(r, recordService, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		events:     events,
		log:        log,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting server")
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.events != nil {
		_ = s.events.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}

func buildStorage(ctx context.Context, cfg config.Config) (*storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal:
		backend, err := storage.NewLocalClient(cfg.Upload.Dir)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	case config.StorageMinio:
		backend, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	case config.StorageGCS:
		backend, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

func buildEvents(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.EventsBackend {
	case config.EventsNone, "":
		return nil, nil
	case config.EventsRabbitMQ:
		backend, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	case config.EventsPubSub:
		backend, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.EventsBackend)
	}
}

// eventPublisher converts the nullable *mq.MQ into the service interface,
// avoiding a non-nil interface wrapping a nil pointer.
func eventPublisher(events *mq.MQ) services.EventPublisher {
	if events == nil {
		return nil
	}
	return events
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(buf)
}
