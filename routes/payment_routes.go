package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/handlers"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/middleware"
)

func PaymentRoutes(app *fiber.App, h *handlers.PaymentHandler) {
	api := app.Group("/api/v1")

	api.Post("/payments/initiate", middleware.Protected(), h.Initiate)
	api.Post("/payments/ipn", h.HandleIPN)
	api.Post("/payments/verify", h.VerifyTransaction)

	// Gateway redirect targets: path-param form, plus the query-param
	// twin for deployments that register a single redirect URL.
	api.Get("/payments/success/:tranId", h.RedirectSuccess)
	api.Get("/payments/fail/:tranId", h.RedirectFail)
	api.Get("/payments/cancel/:tranId", h.RedirectCancel)
	api.Get("/payments/redirect", h.RedirectByQuery)

	admin := api.Group("/payments", middleware.Protected(), middleware.AdminRequired())
	admin.Post("/refund", h.CreateRefund)
	admin.Get("/refund", h.GetRefundStatus)

	api.Get("/admin/audit/summary", middleware.Protected(), middleware.AdminRequired(), h.AuditSummary)
}
