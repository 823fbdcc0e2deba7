package handler

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/vidlens/engine/internal/middleware"
	"github.com/vidlens/engine/internal/service"
	ws "github.com/vidlens/engine/internal/websocket"
	"github.com/vidlens/engine/pkg/response"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Dispatcher *service.Dispatcher
	Catalog    *service.Catalog
	Hub        *ws.Hub
	// Limiter may be nil, which disables rate limiting.
	Limiter        *middleware.RateLimiter
	DispatchPerMin int
	LogLevel       string
	// Health reports extra component states under "services".
	Health func() fiber.Map
}

// NewApp builds the fiber application with every route mounted.
func NewApp(d Deps) *fiber.App {
	validate := validator.New()
	jobs := NewJobHandler(d.Dispatcher, validate)
	catalog := NewCatalogHandler(d.Catalog, validate)

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(d.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{}
		if d.Health != nil {
			services = d.Health()
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"services": services,
		})
	})

	api := app.Group("/api")

	api.Post("/jobs", d.Limiter.DispatchLimit(d.DispatchPerMin), jobs.Dispatch)
	api.Get("/jobs", jobs.List)
	api.Get("/jobs/:jobId", jobs.Status)
	api.Get("/jobs/:jobId/results", jobs.Results)

	api.Get("/plugins", catalog.Plugins)
	api.Get("/analyser/plugins", catalog.AnalyserPlugins)

	api.Put("/subjects/:subjectId", catalog.PutSubject)
	api.Get("/subjects/:subjectId", catalog.GetSubject)

	if d.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})

		app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
			d.Hub.HandleConnection(c, c.Params("jobId"))
		}))
	}

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
