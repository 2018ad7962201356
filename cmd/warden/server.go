package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dockwarden/pkg/config"
	"dockwarden/pkg/metrics"
	"dockwarden/pkg/scheduler"
	"dockwarden/pkg/storage"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// WardenServer runs the update loop and serves its HTTP API
type WardenServer struct {
	config    *config.Config
	logger    *logrus.Logger
	scheduler *scheduler.Scheduler
	storage   *storage.Storage
	metrics   *metrics.Metrics
	router    *mux.Router
}

// NewWardenServer creates a new server for a wired pipeline
func NewWardenServer(cfg *config.Config, sched *scheduler.Scheduler, store *storage.Storage, m *metrics.Metrics, logger *logrus.Logger) *WardenServer {
	server := &WardenServer{
		config:    cfg,
		logger:    logger,
		scheduler: sched,
		storage:   store,
		metrics:   m,
	}

	server.setupRoutes()

	return server
}

// Start serves the API and runs update cycles until ctx is cancelled. A
// SIGUSR1 starts the next cycle immediately.
func (s *WardenServer) Start(ctx context.Context) error {
	addr := s.config.Server.Address()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	wake := make(chan os.Signal, 1)
	signal.Notify(wake, syscall.SIGUSR1)
	defer signal.Stop(wake)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.WithField("address", addr).Info("Warden API başlatılıyor")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return s.scheduler.Run(ctx)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
				s.logger.Info("SIGUSR1 alındı, döngü hemen başlatılıyor")
				s.scheduler.RunNow()
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Warden kapatılıyor...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Server kapatma hatası")
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("Warden başarıyla kapatıldı")
	return nil
}

// setupRoutes sets up HTTP routes
func (s *WardenServer) setupRoutes() {
	s.router = mux.NewRouter()

	// Health check
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Container routes
	s.router.HandleFunc("/containers", s.listContainersHandler).Methods("GET")
	s.router.HandleFunc("/containers/{name}", s.getContainerHandler).Methods("GET")
	s.router.HandleFunc("/containers/{name}/backups", s.listBackupsHandler).Methods("GET")
	s.router.HandleFunc("/containers/{name}/update", s.updateContainerHandler).Methods("POST")

	// Triggers
	s.router.HandleFunc("/webhook/{name}", s.webhookHandler).Methods("POST")
	s.router.HandleFunc("/trigger", s.triggerHandler).Methods("POST")

	// Status routes
	s.router.HandleFunc("/status", s.statusHandler).Methods("GET")
	s.router.HandleFunc("/stats", s.statsHandler).Methods("GET")
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	// Add logging middleware
	s.router.Use(s.loggingMiddleware)
}

// Middleware for logging requests
func (s *WardenServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Info("HTTP request")
	})
}
