// Package api serves the board bridge over HTTP for the browser UI.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/urmzd/ninho/pkg/api/handlers"
	"github.com/urmzd/ninho/pkg/device"
)

// Option configures the router.
type Option func(*Router)

// WithFirmwareLayout sets the segments uploaded files are matched against.
func WithFirmwareLayout(layout []device.Segment) Option {
	return func(r *Router) { r.layout = layout }
}

// WithExpectedFirmware sets the version the firmware probe compares against.
func WithExpectedFirmware(version string) Option {
	return func(r *Router) { r.expectedFirmware = version }
}

// Router holds the Gin engine and dependencies
type Router struct {
	engine     *gin.Engine
	controller device.Controller
	subscriber device.EventSubscriber

	layout           []device.Segment
	expectedFirmware string
}

// NewRouter creates a new API router
func NewRouter(controller device.Controller, subscriber device.EventSubscriber, opts ...Option) *Router {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	SetupMiddleware(engine)

	router := &Router{
		engine:     engine,
		controller: controller,
		subscriber: subscriber,
	}
	for _, opt := range opts {
		opt(router)
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Swagger UI
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	healthHandler := handlers.NewHealthHandler(r.controller)
	r.engine.GET("/health", healthHandler.Health)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		conn := handlers.NewConnectionHandler(r.controller)
		v1.GET("/ports", conn.ListPorts)
		v1.GET("/connection", conn.Status)
		v1.POST("/connection", conn.Connect)
		v1.DELETE("/connection", conn.Disconnect)
		v1.POST("/chip/detect", conn.DetectChip)

		cmd := handlers.NewCommandHandler(r.controller)
		v1.POST("/commands", cmd.Send)
		v1.POST("/commands/raw", cmd.Post)
		v1.POST("/identity", cmd.SetIdentity)
		v1.POST("/mission", cmd.SetMission)
		v1.POST("/status/request", cmd.RequestStatus)

		fw := handlers.NewFirmwareHandler(r.controller, r.layout, r.expectedFirmware)
		firmware := v1.Group("/firmware")
		{
			firmware.GET("/version", fw.Version)
			firmware.POST("/flash", fw.Flash)
		}

		events := handlers.NewEventsHandler(r.subscriber)
		telemetry := v1.Group("/telemetry")
		{
			telemetry.GET("/latest", events.Latest)
			telemetry.GET("/events", events.Telemetry)
			telemetry.GET("/ws", events.TelemetryWS)
		}
		v1.GET("/logs/events", events.Logs)
	}
}

// Handler returns the router as an http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
