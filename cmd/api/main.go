package main

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/audit"
	config "github.com/softcodezyne-ui/codezyne-lms-sub007/configs"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/database"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/handlers"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/jobs"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/notifications"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/payments"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/routes"
	"github.com/softcodezyne-ui/codezyne-lms-sub007/services"
)

func main() {
	db, err := database.Connect()
	if err != nil {
		log.Fatalf("🔥 %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("🔥 %v", err)
	}
	if err := database.SeedAdmin(db); err != nil {
		log.Fatalf("🔥 %v", err)
	}
	notifications.InitEmailService()

	auditLogger := audit.NewLogger(config.ConfigDefault("AUDIT_LOG_DIR", "logs"))

	// The gateway double is chosen once, here. Reconciliation code never
	// checks the environment itself.
	var gateway payments.GatewayClient
	if config.Config("PAYMENT_DEV_MODE") == "true" {
		log.Println("⚠️ PAYMENT_DEV_MODE enabled: using fake payment gateway")
		gateway = payments.NewFakeGateway()
	} else {
		gateway = payments.NewSSLCommerzService()
	}

	serverBaseURL := config.ConfigDefault("SERVER_BASE_URL", "http://localhost:8080")
	clientBaseURL := config.ConfigDefault("CLIENT_BASE_URL", "http://localhost:3000")

	engine := services.NewTransitionEngine(db, auditLogger)
	initiator := services.NewInitiator(db, gateway, auditLogger, serverBaseURL)
	refunds := services.NewRefundProcessor(db, gateway, engine, auditLogger)

	paymentHandler := &handlers.PaymentHandler{
		DB:            db,
		Gateway:       gateway,
		Initiator:     initiator,
		Engine:        engine,
		Refunds:       refunds,
		Audit:         auditLogger,
		ClientBaseURL: clientBaseURL,
	}
	courseHandler := &handlers.CourseHandler{DB: db}

	reconciler := &jobs.PendingReconciler{
		DB:        db,
		Gateway:   gateway,
		Engine:    engine,
		Cutoff:    30 * time.Minute,
		BatchSize: 100,
	}
	c := cron.New()
	c.AddFunc("*/10 * * * *", reconciler.Run)
	go c.Start()
	log.Println("✅ Cron job for pending payment reconciliation scheduled successfully.")

	app := fiber.New(fiber.Config{
		Prefork:           false,
		AppName:           "Course Marketplace",
		CaseSensitive:     true,
		StrictRouting:     true,
		EnablePrintRoutes: true,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Printf("[ERROR] %v | Path: %s | Method: %s", err, c.Path(), c.Method())
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Dhaka",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "success",
			"message": "Welcome to Course Marketplace API",
		})
	})

	routes.CourseRoutes(app, courseHandler)
	routes.PaymentRoutes(app, paymentHandler)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})

	port := config.ConfigDefault("PORT", "8080")
	log.Println("✅ Server is running on port " + port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("🔥 Server failed to start: %v", err)
	}
}
