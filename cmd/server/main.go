package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/greenvest/backend/docs"
	"github.com/greenvest/backend/internal/config"
	"github.com/greenvest/backend/internal/database"
	"github.com/greenvest/backend/internal/handlers"
	mW "github.com/greenvest/backend/internal/middleware"
	"github.com/greenvest/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Greenvest Wallet API
// @version 1.0
// @description Wallet ledger and settlement backend for the Greenvest sustainability marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("wallet.webhook_secret", "WALLET_WEBHOOK_SECRET")
	viper.BindEnv("wallet.checkout_base_url", "WALLET_CHECKOUT_BASE_URL")
	viper.BindEnv("wallet.payout_bic", "WALLET_PAYOUT_BIC")
	viper.BindEnv("wallet.payout_delay", "WALLET_PAYOUT_DELAY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	docs.SwaggerInfo.Title = "Greenvest Wallet API"
	docs.SwaggerInfo.Description = "Wallet ledger and settlement backend for the Greenvest sustainability marketplace"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	walletCfg := config.LoadWalletConfig()
	if walletCfg.WebhookSecret == "" {
		log.Fatal("WALLET_WEBHOOK_SECRET must be configured")
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	notifier := services.NewNotifier(redisClient, walletCfg.NotificationQueue)
	balanceService := services.NewBalanceService(db, redisClient, walletCfg.BalanceHintTTL)
	ledgerService := services.NewLedgerService(db)
	paymentService := services.NewPaymentService(db, walletCfg)
	webhookService := services.NewWebhookService(db, ledgerService, balanceService, notifier, walletCfg.WebhookSecret)
	payoutService := services.NewPayoutService(walletCfg)
	withdrawalService := services.NewWithdrawalService(db, ledgerService, balanceService, payoutService, notifier, walletCfg)
	walletService := services.NewWalletService(db, balanceService, ledgerService, withdrawalService,
		walletCfg.RecentTransactions, walletCfg.RecentWithdrawals)
	webhookHandler := handlers.NewWebhookHandler(webhookService)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Provider callbacks authenticate with an HMAC signature, not a JWT.
		r.Post("/webhooks/payments", webhookHandler.HandlePaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet", walletService.GetWallet)
			r.Get("/wallet/transactions", ledgerService.ListTransactions)
			r.Get("/wallet/transactions/export", ledgerService.ExportLedger)

			r.Post("/wallet/deposits", paymentService.CreateDeposit)
			r.Get("/wallet/deposits/{externalId}", paymentService.GetDeposit)

			r.Post("/wallet/withdrawals", withdrawalService.RequestWithdrawal)
			r.Get("/wallet/withdrawals", withdrawalService.ListWithdrawals)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireApprover)

				r.Get("/admin/withdrawals", withdrawalService.ApprovalQueue)
				r.Put("/admin/withdrawals/{id}/approve", withdrawalService.ApproveWithdrawal)
				r.Put("/admin/withdrawals/{id}/reject", withdrawalService.RejectWithdrawal)
				r.Put("/admin/withdrawals/{id}/process", withdrawalService.ProcessWithdrawal)
				r.Put("/admin/withdrawals/{id}/complete", withdrawalService.CompleteWithdrawal)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
