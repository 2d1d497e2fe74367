package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http/handlers"
	httpMW "github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/http/middleware"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/observability"
	"github.com/myonathanlinkedin/mcp-rag-agency-book-appointments-sub001/internal/platform/logger"
)

type RouterConfig struct {
	ServiceName string
	CORSOrigins []string
	Log         *logger.Logger
	Metrics     *observability.Metrics

	HealthHandler   *httpH.HealthHandler
	BookingHandler  *httpH.BookingHandler
	OperatorHandler *httpH.OperatorHandler
	AdminAuth       *httpMW.AdminAuth
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))
	r.Use(httpMW.Metrics(cfg.Metrics))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	// Booking
	if cfg.BookingHandler != nil {
		r.POST("/agencies", cfg.BookingHandler.RegisterAgency)
		r.GET("/agencies", cfg.BookingHandler.ListAgencies)
		r.GET("/agencies/:id", cfg.BookingHandler.GetAgency)
		r.PATCH("/agencies/:id", cfg.BookingHandler.RenameAgency)
		r.POST("/agencies/:id/holidays", cfg.BookingHandler.DeclareHoliday)
		r.POST("/appointments", cfg.BookingHandler.BookAppointment)
		r.GET("/appointments/:id", cfg.BookingHandler.GetAppointment)
		r.POST("/appointments/:id/cancel", cfg.BookingHandler.CancelAppointment)
	}

	// Operator
	admin := r.Group("/admin")
	{
		if cfg.AdminAuth != nil {
			admin.Use(cfg.AdminAuth.RequireOperator())
		}
		if cfg.OperatorHandler != nil {
			admin.GET("/outbox/exhausted", cfg.OperatorHandler.ListExhausted)
			admin.POST("/outbox/:id/requeue", cfg.OperatorHandler.Requeue)
			admin.GET("/events/:aggregate_id", cfg.OperatorHandler.History)
		}
	}
	return r
}
