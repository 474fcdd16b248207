package router

import (
	"github.com/gofiber/fiber/v2"
)

// InstallRouter wires all route groups. Dependencies are constructed once at
// process start and passed down by reference.
func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

type Router interface {
	InstallRouter(app *fiber.App)
}
