package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/agent-trust/registry/internal/config"
	"github.com/agent-trust/registry/internal/events"
	"github.com/agent-trust/registry/internal/handlers"
	"github.com/agent-trust/registry/internal/middleware"
	"github.com/agent-trust/registry/internal/oracle"
	"github.com/agent-trust/registry/internal/services"
	"github.com/agent-trust/registry/internal/storage"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "registry",
		Short: "Agent trust registry - identity, reputation and validation ledgers",
		Long:  `A registry service maintaining three append-heavy ledgers for autonomous agents: identity records, client feedback with cached aggregates, and validator request/response threads.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.toml)")

	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(startCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = "config.toml"
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists at %s", path)
			}
			cfg := config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}
	return cmd
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the registry server",
		RunE:  runStart,
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		cfgFile = "config.toml"
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", cfgFile, err)
		log.Println("Using default configuration")
		cfg = config.DefaultConfig()
	}

	db, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}
	defer db.Close()

	// Wire services over the shared backend
	tokenLedger := oracle.NewTokenLedger()
	emitter := events.LogEmitter{}
	identityService := services.NewIdentityService(db, tokenLedger, emitter)
	reputationService := services.NewReputationService(db, identityService, emitter)
	validationService := services.NewValidationService(db, identityService, emitter)
	tokenService := services.NewTokenService(db, tokenLedger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	authHandler := handlers.NewAuthHandler(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.ExpirationHours)*time.Hour)
	identityHandler := handlers.NewIdentityHandler(identityService)
	reputationHandler := handlers.NewReputationHandler(reputationService)
	validationHandler := handlers.NewValidationHandler(validationService)
	tokenHandler := handlers.NewTokenHandler(tokenService)

	caller := middleware.CallerMiddleware(cfg.Auth.JWTSecret)
	authority := middleware.AuthorityMiddleware(cfg.Auth.AuthorityKey)

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/token", authHandler.Token)
		}

		tokens := api.Group("/tokens")
		{
			tokens.POST("/mint", caller, tokenHandler.Mint)
			tokens.GET("/:mint", tokenHandler.Get)
		}

		identity := api.Group("/identity")
		{
			identity.POST("/initialize", authority, identityHandler.Initialize)
			identity.GET("/config", identityHandler.GetConfig)
			identity.POST("/agents", caller, identityHandler.Register)
			identity.GET("/agents/:id", identityHandler.GetAgent)
			identity.PUT("/agents/:id/uri", caller, identityHandler.SetURI)
			identity.PUT("/agents/:id/metadata", caller, identityHandler.SetMetadata)
			identity.DELETE("/agents/:id/metadata/:key", caller, identityHandler.RemoveMetadata)
			identity.POST("/agents/:id/extensions", caller, identityHandler.CreateExtension)
			identity.GET("/agents/:id/extensions/:index", identityHandler.GetExtension)
			identity.PUT("/agents/:id/extensions/:index/metadata", caller, identityHandler.SetExtensionMetadata)
			identity.POST("/agents/:id/sync-owner", caller, identityHandler.SyncOwner)
			identity.POST("/agents/:id/transfer", caller, identityHandler.Transfer)
		}

		reputation := api.Group("/reputation")
		{
			reputation.POST("/feedback", caller, reputationHandler.GiveFeedback)
			reputation.GET("/agents/:id/summary", reputationHandler.GetSummary)
			reputation.GET("/agents/:id/feedback/:client/:index", reputationHandler.GetFeedback)
			reputation.POST("/agents/:id/feedback/:client/:index/revoke", caller, reputationHandler.RevokeFeedback)
			reputation.POST("/responses", caller, reputationHandler.AppendResponse)
			reputation.GET("/agents/:id/feedback/:client/:index/responses/:response_index", reputationHandler.GetResponse)
		}

		validation := api.Group("/validation")
		{
			validation.POST("/initialize", authority, validationHandler.Initialize)
			validation.GET("/config", validationHandler.GetConfig)
			validation.POST("/requests", caller, validationHandler.Request)
			validation.GET("/requests/:id/:validator/:nonce", validationHandler.GetRequest)
			validation.POST("/requests/:id/:validator/:nonce/respond", caller, validationHandler.Respond)
			validation.PUT("/requests/:id/:validator/:nonce/respond", caller, validationHandler.Update)
			validation.DELETE("/requests/:id/:validator/:nonce", caller, validationHandler.Close)
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Registry server starting on %s:%d (storage driver: %s)", cfg.Server.Host, cfg.Server.Port, cfg.Storage.Driver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Println("Server exited")
	return nil
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := storage.NewPostgres(cfg.Storage.Postgres.DatabaseURL())
		if err != nil {
			return nil, err
		}
		migrationsPath := os.Getenv("MIGRATIONS_PATH")
		if migrationsPath == "" {
			migrationsPath = "./migrations"
		}
		if err := db.Migrate(migrationsPath); err != nil {
			log.Printf("Warning: migrations failed: %v", err)
		}
		return db, nil
	case "sqlite":
		return storage.NewSQLite(cfg.Storage.SQLite.Path)
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
