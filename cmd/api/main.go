package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"

	appConfig "github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/config"
	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/handlers"
	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/middleware"
	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/services"
)

func main() {
	cfg, err := appConfig.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Error loading configuration: %v", err)
	}

	log.Println("✅ Configuration loaded")

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Println("🔧 Initializing services...")

	// 1. DynamoDB persistence
	dynamoClient, err := initDynamoDBClient(cfg)
	if err != nil {
		log.Fatalf("❌ Error initializing DynamoDB: %v", err)
	}
	log.Println("✅ Connected to DynamoDB")

	dynamoDBService := services.NewDynamoDBService(
		dynamoClient,
		cfg.DynamoDBTableRecords,
		cfg.DynamoDBTableTips,
		cfg.DynamoDBTableKeys,
	)

	// 2. Keyring (local private key custody)
	keyringService, err := services.NewKeyringService(cfg.KeyMaterialFile)
	if err != nil {
		log.Fatalf("❌ Error initializing keyring: %v", err)
	}

	// 3. Kafka
	kafkaService := services.NewKafkaService(
		cfg.KafkaBootstrapServers,
		cfg.KafkaConsumerGroup,
		cfg.KafkaTopic,
		cfg.KafkaProducerTopic,
	)

	if err := kafkaService.VerifyConnection(context.Background()); err != nil {
		log.Printf("⚠️ Warning: Kafka connection failed: %v", err)
		log.Println("   Make sure Kafka is running")
	} else {
		log.Println("✅ Connected to Kafka")
	}

	// 4. Trusted timestamp provider (optional)
	var tsaService services.TimestampProvider
	if cfg.TSAEndpoint != "" {
		tsaService = services.NewTSAService(
			cfg.TSAEndpoint,
			cfg.TSAProvider,
			time.Duration(cfg.TSATimeout)*time.Second,
			cfg.TSARetries,
		)
		log.Printf("✅ Trusted timestamp provider configured: %s", cfg.TSAProvider)
	} else {
		log.Println("⚠️ No TSA endpoint configured, records are created without timestamp tokens")
	}

	// 5. Domain services
	canonicalService := services.NewCanonicalService()
	keyLifecycleService := services.NewKeyLifecycleService(dynamoDBService, keyringService, kafkaService)
	signerService := services.NewSignerService(
		dynamoDBService,
		keyLifecycleService,
		keyringService,
		canonicalService,
		tsaService,
		kafkaService,
		cfg.SignMaxRetries,
	)
	verifierService := services.NewVerifierService(
		dynamoDBService,
		keyLifecycleService,
		keyringService,
		canonicalService,
		kafkaService,
	)
	navigatorService := services.NewNavigatorService(dynamoDBService)

	// Handlers
	healthHandler := handlers.NewHealthHandler(map[string]handlers.DependencyChecker{
		"kafka": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return kafkaService.VerifyConnection(ctx)
		},
	})
	recordHandler := handlers.NewRecordHandler(signerService, verifierService, navigatorService, cfg.DefaultWalkLimit, cfg.MaxChainLimit)
	keyHandler := handlers.NewKeyHandler(keyLifecycleService)

	router := setupRoutes(cfg, healthHandler, recordHandler, keyHandler)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	// Kafka consumer in the background: every incoming cultivation activity
	// is signed and appended to its owner's chain.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if cfg.KafkaConsumerEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Println("🎧 Starting Kafka consumer...")

			handler := func(event *models.ActivityRecordedEvent) error {
				occurredAt := event.OccurredAt
				_, err := signerService.Sign(ctx, event.OwnerID, event.ActivityType, event.Payload, event.ActorID, &occurredAt)
				return err
			}

			if err := kafkaService.ConsumeActivityEvents(ctx, handler); err != nil && ctx.Err() == nil {
				log.Printf("❌ Kafka consumer error: %v", err)
			}
		}()
	} else {
		log.Println("⚠️ Kafka consumer disabled, records are only created via the HTTP API")
	}

	go func() {
		log.Printf("🚀 Server started on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	cancel() // stop the Kafka consumer

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Error shutting down server: %v", err)
	}

	wg.Wait()

	if kafkaService != nil {
		kafkaService.Close()
	}

	log.Println("✅ Server stopped cleanly")
}

// initDynamoDBClient initializes the DynamoDB client.
func initDynamoDBClient(cfg *appConfig.Config) (*dynamodb.Client, error) {
	ctx := context.Background()

	var awsConfig aws.Config
	var err error

	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretKey != "" {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.AWSRegion),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWSAccessKeyID,
				cfg.AWSSecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM role, env vars, etc.)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.AWSRegion),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsConfig)

	if cfg.DynamoDBEndpoint != "" {
		dynamoClient = dynamodb.NewFromConfig(awsConfig, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		})
		log.Printf("🔧 Using local DynamoDB endpoint: %s", cfg.DynamoDBEndpoint)
	}

	return dynamoClient, nil
}

// setupRoutes configures the application routes.
func setupRoutes(cfg *appConfig.Config, healthHandler *handlers.HealthHandler, recordHandler *handlers.RecordHandler, keyHandler *handlers.KeyHandler) *gin.Engine {
	router := gin.New()

	router.Use(middleware.SetupLogging())
	router.Use(gin.Recovery())
	router.Use(middleware.SetupCORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.CorrelationID())

	if cfg.RateLimitRequests > 0 {
		rateLimitConfig := middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRequests / cfg.RateLimitWindow,
			BurstSize:         cfg.RateLimitRequests,
		}
		router.Use(middleware.SetupRateLimit(rateLimitConfig))
	}

	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/health/ready", healthHandler.ReadinessCheck)
	router.GET("/health/live", healthHandler.LivenessCheck)

	apiGroup := router.Group("/api")
	{
		recordGroup := apiGroup.Group("/records")
		{
			recordGroup.POST("", recordHandler.CreateRecord)
			recordGroup.GET("/:ownerId", recordHandler.GetChain)
			recordGroup.GET("/:ownerId/verify", recordHandler.VerifyChain)
			recordGroup.GET("/:ownerId/record/:recordId/verify", recordHandler.VerifyRecord)
			recordGroup.GET("/:ownerId/walk", recordHandler.Walk)
		}

		keyGroup := apiGroup.Group("/keys")
		{
			keyGroup.POST("/initial", keyHandler.CreateInitial)
			keyGroup.POST("/rotate", keyHandler.Rotate)
			keyGroup.POST("/:version/revoke", keyHandler.Revoke)
			keyGroup.GET("", keyHandler.List)
			keyGroup.GET("/active", keyHandler.GetActive)
			keyGroup.GET("/:version", keyHandler.GetByVersion)
		}
	}

	return router
}
