package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/invorya/clearance-api/internal/application/clearance"
	infraai "github.com/invorya/clearance-api/internal/infrastructure/ai"
	infrapdf "github.com/invorya/clearance-api/internal/infrastructure/pdf"
	"github.com/invorya/clearance-api/internal/infrastructure/postgres"
	infrazatca "github.com/invorya/clearance-api/internal/infrastructure/zatca"
	"github.com/invorya/clearance-api/internal/infrastructure/zatca/signer"
	httpRouter "github.com/invorya/clearance-api/internal/interfaces/http"
	"github.com/invorya/clearance-api/pkg/config"
	"github.com/invorya/clearance-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("zatca_env", cfg.ZATCA.Environment).
		Msg("starting application")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("PostgreSQL connection")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	logRepo := postgres.NewInvoiceLogRepository(pool)

	xmlBuilder := infrazatca.NewXMLBuilderService()
	signerSvc := signer.NewDigitalSignatureService()
	certStore := signer.NewFileCertificateStore(
		cfg.ZATCA.CertPath, cfg.ZATCA.CertKeyPath, cfg.ZATCA.CertPassword,
	)
	submitter := infrazatca.NewAPIClient(cfg.ZATCA.Username, cfg.ZATCA.Password)

	// Advisory layer is optional: it explains rejections but never blocks
	// or influences processing.
	var advisory clearance.AdvisoryService
	switch cfg.AI.Provider {
	case "anthropic":
		advisory = infraai.NewAnthropicService(cfg.AI.APIKey, cfg.AI.Model)
	case "gemini":
		advisory = infraai.NewGeminiService(cfg.AI.APIKey, cfg.AI.Model)
	default:
		advisory = clearance.NoopAdvisory{}
	}

	orchestrator := clearance.NewOrchestrator(
		invoiceRepo, logRepo, xmlBuilder, signerSvc, certStore, submitter, advisory, log,
	)

	pdfGenerator := infrapdf.NewMarotoPDFGenerator()
	pdfUC := clearance.NewPDFUseCase(invoiceRepo, logRepo, pdfGenerator)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI locally: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Clearance API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Orchestrator: orchestrator,
		PDFUC:        pdfUC,
		JWTSecret:    cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, closing server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	log.Info().Msg("application stopped")
}
