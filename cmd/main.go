package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	cron "github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/futura-app/coauth-service/internal/app"
	"github.com/futura-app/coauth-service/internal/config"
	"github.com/futura-app/coauth-service/internal/controllers"
	"github.com/futura-app/coauth-service/internal/middleware"
	"github.com/futura-app/coauth-service/internal/repositories"
	"github.com/futura-app/coauth-service/internal/services"
	"github.com/futura-app/coauth-service/internal/utils"
)

func main() {
	utils.InitLogger(config.AppName)
	cfg := config.LoadConfig()

	application, err := app.NewApp(cfg)
	if err != nil {
		utils.Logger.Fatal("Failed to initialize application:", err)
	}
	defer application.Close()

	//----------------------------------------------------------------------
	// Repositories
	//----------------------------------------------------------------------
	nonceRepo := repositories.NewNonceRepository(application.DB)
	sessionRepo := repositories.NewSessionRepository(application.DB)
	linkedRepo := repositories.NewLinkedIdentityRepository(application.DB)

	//----------------------------------------------------------------------
	// Services
	//----------------------------------------------------------------------
	clock := utils.RealClock()

	rateLimiterService := services.NewRateLimiterService(nonceRepo, cfg, clock)
	nonceService := services.NewNonceService(nonceRepo, rateLimiterService, cfg, clock)
	coAuthService := services.NewCoAuthService(sessionRepo, linkedRepo, nonceService, cfg, clock)
	nonceCleanupService := services.NewNonceCleanupService(nonceRepo)

	//----------------------------------------------------------------------
	// Controllers
	//----------------------------------------------------------------------
	coAuthController := controllers.NewCoAuthController(nonceService, coAuthService, cfg)
	healthController := controllers.NewHealthController(application)

	//----------------------------------------------------------------------
	// Router & Endpoints
	//----------------------------------------------------------------------
	router := mux.NewRouter()

	// Health
	router.HandleFunc("/health", healthController.HealthCheckHandler).Methods("GET")

	// /coauth/v1 — everything requires the primary session.
	coauthRouter := router.PathPrefix("/coauth").Subrouter()
	v1Router := coauthRouter.PathPrefix("/v1").Subrouter()
	v1Router.Use(middleware.SessionAuthMiddleware(cfg.SessionJWTPublicKey))

	v1Router.HandleFunc("/challenge", coAuthController.IssueChallenge).Methods("POST")
	v1Router.HandleFunc("/activate", coAuthController.Activate).Methods("POST")
	v1Router.HandleFunc("/status", coAuthController.Status).Methods("GET")
	v1Router.HandleFunc("/deactivate", coAuthController.Deactivate).Methods("POST")

	// Sensitive operations sit behind the co-auth guard.
	guarded := v1Router.PathPrefix("/principal").Subrouter()
	guarded.Use(middleware.CoAuthGuardMiddleware(coAuthService))
	guarded.HandleFunc("/unlink", coAuthController.Unlink).Methods("POST")

	//----------------------------------------------------------------------
	// Nightly cleanup via cron (backstop for the opportunistic sweep)
	//----------------------------------------------------------------------
	c := cron.New()

	_, schErr := c.AddFunc("15 3 * * *", func() {
		if e := nonceCleanupService.CleanupDaily(context.Background()); e != nil {
			utils.Logger.WithError(e).Error("Scheduled nonce cleanup failed")
		}
	})
	if schErr != nil {
		utils.Logger.WithError(schErr).Fatal("Failed to schedule nonce cleanup job")
	}

	c.Start()

	co := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.AppUrl},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	utils.Logger.Infof("Starting %s on port: %s", cfg.AppName, cfg.AppPort)
	if err := http.ListenAndServe(":"+cfg.AppPort, co.Handler(router)); err != nil {
		utils.Logger.Fatal("Failed to start server:", err)
	}
}
