package intake

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ShapezModder/enterprise-security-saas/api/schemas"
	"github.com/ShapezModder/enterprise-security-saas/internal/config"
	"github.com/ShapezModder/enterprise-security-saas/internal/logstream"
	"github.com/ShapezModder/enterprise-security-saas/internal/pipeline"
)

// Server is the intake HTTP API.
type Server struct {
	svc    *Service
	broker *logstream.Broker
	cfg    config.ServerConfig
	log    *zap.Logger
	engine *gin.Engine
}

func NewServer(svc *Service, broker *logstream.Broker, cfg config.ServerConfig, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		svc:    svc,
		broker: broker,
		cfg:    cfg,
		log:    logger.Named("api"),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Router exposes the handler for tests and for the command wiring.
func (s *Server) Router() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("API server listening", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stages", s.handleStages)
	api.POST("/scan", s.handleSubmit)

	admin := api.Group("/admin")
	admin.GET("/jobs", s.handleListJobs)
	admin.GET("/jobs/:id", s.handleGetJob)
	admin.GET("/jobs/:id/logs", s.handleJobLogs)
	admin.POST("/start-job", s.handleStartJob)
	admin.POST("/decline-job", s.handleDeclineJob)
	admin.POST("/terminate-job", s.handleTerminateJob)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stages": pipeline.Catalog})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	job, err := s.svc.Submit(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func (s *Server) handleListJobs(c *gin.Context) {
	summaries, err := s.svc.ListJobs(c.Request.Context(), s.cfg.JobsPageSize)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": summaries})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.svc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleJobLogs streams the job's live progress lines until the client
// disconnects.
func (s *Server) handleJobLogs(c *gin.Context) {
	if s.broker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "log streaming is not enabled"})
		return
	}
	if _, err := s.svc.GetJob(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}

	lines, cancel := s.broker.Subscribe(c.Param("id"))
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case line, ok := <-lines:
			if !ok {
				return false
			}
			c.SSEvent("log", line)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type startJobRequest struct {
	JobID       string   `json:"job_id"`
	Stages      []string `json:"stages"`
	Destructive *bool    `json:"destructive"`
}

func (s *Server) handleStartJob(c *gin.Context) {
	var req startJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.svc.StartJob(c.Request.Context(), req.JobID, req.Stages, req.Destructive); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": req.JobID, "status": schemas.StatusRunning})
}

type declineJobRequest struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

func (s *Server) handleDeclineJob(c *gin.Context) {
	var req declineJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.svc.DeclineJob(c.Request.Context(), req.JobID, req.Reason); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": req.JobID, "status": schemas.StatusDeclined})
}

type terminateJobRequest struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleTerminateJob(c *gin.Context) {
	var req terminateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.svc.TerminateJob(c.Request.Context(), req.JobID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": req.JobID, "status": schemas.StatusCancelled})
}

// writeError maps service errors onto HTTP statuses. Validation problems and
// wrong-state operator actions are both client errors.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, schemas.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, schemas.ErrValidation), errors.Is(err, schemas.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
