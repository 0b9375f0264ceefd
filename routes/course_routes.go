package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/handlers"
)

func CourseRoutes(app *fiber.App, h *handlers.CourseHandler) {
	api := app.Group("/api/v1")

	api.Get("/courses", h.ListCourses)
	api.Get("/courses/:id", h.GetCourse)
}
