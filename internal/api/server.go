package api

import (
	"net/http"
	"time"

	"abstats/app"
	"abstats/internal"

	"github.com/gin-gonic/gin"
)

// Services are the application services the API exposes
type Services struct {
	Registry    *app.RegistryService
	Events      *app.EventService
	Frequentist *app.FrequentistService
	Bayesian    *app.BayesianService
	Sequential  *app.SequentialService
	Bandit      *app.BanditService
	Power       *app.PowerService
	Reports     *app.ReportService
}

// Server is the public JSON API
type Server struct {
	router   *gin.Engine
	services Services
	logger   *internal.Logger
}

// NewServer builds the router. mode is a gin mode: debug, release or test.
func NewServer(services Services, logger *internal.Logger, mode string) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}
	s := &Server{
		router:   gin.New(),
		services: services,
		logger:   logger,
	}
	s.router.Use(gin.CustomRecovery(s.recovered), s.requestLogger())
	s.router.NoRoute(s.noRoute)
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")

	experiments := v1.Group("/experiments")
	experiments.POST("", s.createExperiment)
	experiments.GET("", s.listExperiments)
	experiments.GET("/:id", s.getExperiment)
	experiments.PUT("/:id/allocation", s.updateAllocation)
	experiments.PUT("/:id/variants/:variantId", s.updateVariant)
	experiments.POST("/:id/start", s.startExperiment)
	experiments.POST("/:id/pause", s.pauseExperiment)
	experiments.POST("/:id/resume", s.resumeExperiment)
	experiments.POST("/:id/complete", s.completeExperiment)

	experiments.POST("/:id/exposures", s.recordExposure)
	experiments.POST("/:id/outcomes", s.recordOutcome)

	experiments.GET("/:id/frequentist", s.getFrequentist)
	experiments.GET("/:id/bayesian", s.getBayesian)
	experiments.POST("/:id/bayesian/recompute", s.recomputeBayesian)
	experiments.GET("/:id/sequential", s.getSequential)
	experiments.POST("/:id/sequential/checks", s.runSequentialCheck)
	experiments.GET("/:id/bandit", s.getBandit)
	experiments.POST("/:id/bandit/select", s.selectBanditVariant)
	experiments.GET("/:id/power", s.listPowerAnalyses)

	experiments.GET("/:id/report", s.getReport)
	experiments.GET("/:id/report.html", s.getReportHTML)
	experiments.GET("/:id/report.xlsx", s.getReportXLSX)

	power := v1.Group("/power")
	power.POST("", s.calculatePower)
	power.GET("/:powerId", s.getPowerAnalysis)
}

// requestLogger logs one line per request at DEBUG, or WARN for server errors
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			s.logger.Warn("%s %s -> %d in %s", c.Request.Method, c.FullPath(), status, time.Since(start))
			return
		}
		s.logger.Debug("%s %s -> %d in %s", c.Request.Method, c.FullPath(), status, time.Since(start))
	}
}
