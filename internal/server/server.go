package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/iuran/internal/audit"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	"github.com/smallbiznis/iuran/internal/authorization"
	"github.com/smallbiznis/iuran/internal/blobstore"
	"github.com/smallbiznis/iuran/internal/config"
	"github.com/smallbiznis/iuran/internal/directory"
	directorydomain "github.com/smallbiznis/iuran/internal/directory/domain"
	"github.com/smallbiznis/iuran/internal/dues"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
	"github.com/smallbiznis/iuran/internal/generation"
	generationdomain "github.com/smallbiznis/iuran/internal/generation/domain"
	"github.com/smallbiznis/iuran/internal/observability"
	obslogger "github.com/smallbiznis/iuran/internal/observability/logger"
	obstracing "github.com/smallbiznis/iuran/internal/observability/tracing"
	"github.com/smallbiznis/iuran/internal/providers"
	"github.com/smallbiznis/iuran/internal/reconciler"
	"github.com/smallbiznis/iuran/internal/report"
	reportdomain "github.com/smallbiznis/iuran/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	blobstore.Module,
	authorization.Module,
	audit.Module,
	directory.Module,
	dues.Module,
	generation.Module,
	providers.Module,
	report.Module,
	reconciler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	directorySvc  directorydomain.Service
	duesSvc       duesdomain.Service
	generationSvc generationdomain.Service
	reportSvc     reportdomain.Service
	blobs         blobstore.Store
	sessions      *reconciler.Sessions
	duesCfg       *config.DuesConfigHolder

	heartbeat time.Duration
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	DirectorySvc  directorydomain.Service
	DuesSvc       duesdomain.Service
	GenerationSvc generationdomain.Service
	ReportSvc     reportdomain.Service
	Blobs         blobstore.Store
	Sessions      *reconciler.Sessions
	DuesCfg       *config.DuesConfigHolder
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		directorySvc:  p.DirectorySvc,
		duesSvc:       p.DuesSvc,
		generationSvc: p.GenerationSvc,
		reportSvc:     p.ReportSvc,
		blobs:         p.Blobs,
		sessions:      p.Sessions,
		duesCfg:       p.DuesCfg,
		heartbeat:     15 * time.Second,
	}

	svc.registerMemberRoutes()
	svc.registerAdminRoutes()
	svc.registerBlobRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerMemberRoutes() {
	me := s.engine.Group("/api/me", s.ViewerRequired())
	{
		me.GET("/dues", s.authorize(authorization.ObjectDues, authorization.ActionDuesViewOwn), s.ListMyDues)
		me.GET("/dues/stream", s.authorize(authorization.ObjectDues, authorization.ActionDuesViewOwn), s.StreamMyDues)
		me.POST("/dues/:id/proof", s.authorize(authorization.ObjectDues, authorization.ActionDuesSubmit), s.SubmitProof)
	}

	sessions := s.engine.Group("/api/sessions", s.ViewerRequired())
	sessions.DELETE("/:session_id", s.CloseSession)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.ViewerRequired())

	// -------- Dues --------
	admin.GET("/dues/pending", s.authorize(authorization.ObjectDues, authorization.ActionDuesViewAll), s.ListPendingDues)
	admin.GET("/dues/pending/stream", s.authorize(authorization.ObjectDues, authorization.ActionDuesViewAll), s.StreamPendingDues)
	admin.GET("/dues/:id", s.authorize(authorization.ObjectDues, authorization.ActionDuesViewAll), s.GetDues)
	admin.POST("/dues/:id/approve", s.authorize(authorization.ObjectDues, authorization.ActionDuesApprove), s.ApproveDues)
	admin.POST("/dues/:id/reject", s.authorize(authorization.ObjectDues, authorization.ActionDuesReject), s.RejectDues)
	admin.PATCH("/dues/:id", s.authorize(authorization.ObjectDues, authorization.ActionDuesAmend), s.AmendDues)
	admin.GET("/dues/:id/proof", s.authorize(authorization.ObjectDues, authorization.ActionDuesViewProof), s.GetProofURL)

	// -------- Generation --------
	admin.POST("/generations", s.authorize(authorization.ObjectGeneration, authorization.ActionGenerationRun), s.Generate)
	admin.GET("/generations/:period", s.authorize(authorization.ObjectGeneration, authorization.ActionGenerationRun), s.GetGeneration)

	// -------- Reports --------
	admin.GET("/stats", s.authorize(authorization.ObjectReport, authorization.ActionReportView), s.GetStats)
	admin.GET("/reports/:period", s.authorize(authorization.ObjectReport, authorization.ActionReportView), s.GetReport)
	admin.GET("/reports/:period/arrears.csv", s.authorize(authorization.ObjectReport, authorization.ActionReportExport), s.ExportArrearsCSV)
	admin.GET("/reports/:period/arrears.pdf", s.authorize(authorization.ObjectReport, authorization.ActionReportExport), s.ExportArrearsPDF)

	// -------- Members --------
	admin.GET("/members", s.authorize(authorization.ObjectMember, authorization.ActionMemberView), s.ListMembers)
	admin.POST("/members", s.authorize(authorization.ObjectMember, authorization.ActionMemberCreate), s.CreateMember)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerBlobRoutes() {
	s.engine.GET("/blobs/:id", s.ViewerRequired(), s.authorize(authorization.ObjectDues, authorization.ActionDuesViewProof), s.ServeBlob)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
