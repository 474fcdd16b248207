package main

import (
	"fmt"
	"log"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/cache"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/database"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/env"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/jobqueue"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/montonio"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/payments"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Construct the payment pipeline once; handlers receive references.
	queue := jobqueue.NewQueue(3)
	repo := payments.NewRepository(database.GetDB())
	service := payments.NewService(repo, queue)
	queue.SetWebhookRetrier(service)
	queue.Start()

	montonioClient := montonio.NewClientFromEnv()

	app := fiber.New(fiber.Config{
		AppName: "cenasocta-payments",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Montonio: montonioClient,
		Payments: service,
		Repo:     repo,
	})

	return app
}
