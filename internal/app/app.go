package app

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"smsconfirm/internal/config"
	"smsconfirm/internal/handlers"
	"smsconfirm/internal/repositories"
	"smsconfirm/internal/routes"
	"smsconfirm/internal/services"
	"smsconfirm/internal/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "smsconfirm/docs"
)

func Run() {
	cfg := config.LoadConfig()

	// === DB ===
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("Ошибка подключения к БД: ", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Ошибка закрытия БД: %v", err)
		}
	}()

	// === Repos ===
	accountRepo := repositories.NewAccountRepository(db)

	// === Политика подтверждения из конфига ===
	settings := services.ConfirmationSettings{
		Reconfirmable:    cfg.Confirmation.Reconfirmable,
		ConfirmationKeys: cfg.Confirmation.ConfirmationKeys,
		ResendLimit:      cfg.Confirmation.ResendLimit,
	}
	if d, ok := config.ParseDuration(cfg.Confirmation.ConfirmWithin); ok {
		settings.ConfirmWithin = d
	}
	if d, ok := config.ParseDuration(cfg.Confirmation.AllowUnconfirmedAccessFor); ok {
		settings.AllowUnconfirmedAccessFor = &d
	}
	if d, ok := config.ParseDuration(cfg.Confirmation.ResendWindow); ok {
		settings.ResendWindow = d
	} else {
		settings.ResendWindow = 10 * time.Minute
	}

	// === Канал доставки: Mobizon либо SMS-to-email шлюз ===
	var notifier services.SMSNotifier
	if cfg.EmailGateway.Enabled {
		notifier = services.NewEmailGatewayService(
			cfg.EmailGateway.SMTPHost,
			cfg.EmailGateway.SMTPPort,
			cfg.EmailGateway.SMTPUser,
			cfg.EmailGateway.SMTPPassword,
			cfg.EmailGateway.FromEmail,
			cfg.EmailGateway.GatewayDomain,
		)
	} else {
		notifier = utils.NewClientWithOptions(
			cfg.Mobizon.APIKey,
			cfg.Mobizon.SenderID,
			cfg.Mobizon.DryRun,
		)
	}

	// Ops-монитор доставки (может быть выключен)
	monitor, err := services.NewMonitorService(cfg.Monitor.TelegramBotToken, cfg.Monitor.TelegramChatID)
	if err != nil {
		log.Printf("Монитор доставки не поднялся, едем без него: %v", err)
	}

	// === Services ===
	tokenService := services.NewTokenService(cfg.Confirmation.TokenSecret)
	confirmationService := services.NewConfirmationService(
		accountRepo,
		tokenService,
		settings,
		notifier,
		monitor,
		cfg.Confirmation.DefaultRegion,
	)

	// === Handlers ===
	accountHandler := handlers.NewAccountHandler(confirmationService, cfg.Auth.AuthenticateOnLogin)
	confirmationHandler := handlers.NewConfirmationHandler(confirmationService)

	// === Gin ===
	router := gin.Default()
	router.Use(corsMiddleware())

	// Swagger
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	routes.SetupRoutes(router, accountHandler, confirmationHandler, []byte(cfg.Auth.JWTSecret))

	// === Run ===
	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Сервер запущен на %s", listenAddr)
	if err := router.Run(listenAddr); err != nil {
		log.Fatal("Ошибка запуска сервера: ", err)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
