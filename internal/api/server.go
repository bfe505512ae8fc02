package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/api/handler"
	"github.com/vsisnet/vsispanel-sub003/internal/api/middleware"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
)

// Server is the ops server: health, metrics and read-only views of the task
// ledger, backups and restores. It binds to localhost by default and carries
// no authentication.
type Server struct {
	router *gin.Engine
	addr   string
	logger zerolog.Logger
}

// NewServer creates the ops server
func NewServer(
	addr string,
	logger zerolog.Logger,
	processService *service.ProcessService,
	backupService *service.BackupService,
	restoreService *service.RestoreService,
) *Server {
	logger = logger.With().Str("component", "ops").Logger()

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.ErrorHandlerMiddleware(logger))

	processHandler := handler.NewProcessHandler(processService)
	backupHandler := handler.NewBackupHandler(backupService)
	restoreHandler := handler.NewRestoreHandler(restoreService)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	processes := router.Group("/processes")
	{
		processes.GET("", processHandler.ListProcesses)
		processes.GET("/:id", processHandler.GetProcess)
	}
	router.GET("/status/:command_id", processHandler.GetProcessByCommandID)

	backups := router.Group("/backups")
	{
		backups.GET("", backupHandler.ListBackups)
		backups.GET("/:id", backupHandler.GetBackup)
	}

	restores := router.Group("/restores")
	{
		restores.GET("", restoreHandler.ListRestores)
		restores.GET("/:id", restoreHandler.GetRestore)
	}

	return &Server{router: router, addr: addr, logger: logger}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("ops server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	return ctx.Err()
}

func (s *Server) String() string {
	return "ops-server"
}
