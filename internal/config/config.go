package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the record-chain service configuration.
type Config struct {
	// AWS
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretKey         string
	DynamoDBTableRecords string
	DynamoDBTableTips    string
	DynamoDBTableKeys    string
	DynamoDBEndpoint     string

	// Kafka
	KafkaBootstrapServers string
	KafkaConsumerGroup    string
	KafkaTopic            string
	KafkaProducerTopic    string
	KafkaConsumerEnabled  bool

	// Trusted timestamp provider (optional)
	TSAEndpoint string
	TSAProvider string
	TSATimeout  int
	TSARetries  int

	// Signing
	KeyMaterialFile  string
	SignMaxRetries   int
	DefaultWalkLimit int
	MaxChainLimit    int

	// Server
	ServerPort string
	GinMode    string

	// Rate Limiting
	RateLimitRequests int
	RateLimitWindow   int
}

var AppConfig *Config

// LoadConfig loads the configuration from environment variables. A .env
// file is honored in development.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		// AWS
		AWSRegion:            getEnvOrDefault("AWS_REGION", "ap-southeast-1"),
		AWSAccessKeyID:       os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:         os.Getenv("AWS_SECRET_ACCESS_KEY"),
		DynamoDBTableRecords: getEnvOrDefault("DYNAMODB_TABLE_RECORDS", "activity_records"),
		DynamoDBTableTips:    getEnvOrDefault("DYNAMODB_TABLE_TIPS", "chain_tips"),
		DynamoDBTableKeys:    getEnvOrDefault("DYNAMODB_TABLE_KEYS", "signing_keys"),
		DynamoDBEndpoint:     os.Getenv("DYNAMODB_ENDPOINT"),

		// Kafka
		KafkaBootstrapServers: getEnvOrDefault("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092"),
		KafkaConsumerGroup:    getEnvOrDefault("KAFKA_CONSUMER_GROUP", "record-chain-consumer"),
		KafkaTopic:            getEnvOrDefault("KAFKA_TOPIC", "event.activity.recorded"),
		KafkaProducerTopic:    getEnvOrDefault("KAFKA_PRODUCER_TOPIC", "event.record-chain"),
		KafkaConsumerEnabled:  getEnvAsBool("KAFKA_CONSUMER_ENABLED", true),

		// TSA
		TSAEndpoint: os.Getenv("TSA_ENDPOINT"),
		TSAProvider: getEnvOrDefault("TSA_PROVIDER", "freetsa"),
		TSATimeout:  getEnvAsInt("TSA_TIMEOUT", 5),
		TSARetries:  getEnvAsInt("TSA_RETRIES", 2),

		// Signing
		KeyMaterialFile:  getEnvOrDefault("KEY_MATERIAL_FILE", ""),
		SignMaxRetries:   getEnvAsInt("SIGN_MAX_RETRIES", 3),
		DefaultWalkLimit: getEnvAsInt("DEFAULT_WALK_LIMIT", 20),
		MaxChainLimit:    getEnvAsInt("MAX_CHAIN_LIMIT", 1000),

		// Server
		ServerPort: getEnvOrDefault("SERVER_PORT", "8082"),
		GinMode:    getEnvOrDefault("GIN_MODE", "debug"),

		// Rate Limiting
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvAsInt("RATE_LIMIT_WINDOW", 60),
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	AppConfig = config
	return config, nil
}

func validateConfig(config *Config) error {
	if config.KafkaBootstrapServers == "" {
		return fmt.Errorf("KAFKA_BOOTSTRAP_SERVERS is required")
	}

	if config.DynamoDBTableRecords == "" || config.DynamoDBTableTips == "" || config.DynamoDBTableKeys == "" {
		return fmt.Errorf("DynamoDB table names are required")
	}

	if config.SignMaxRetries <= 0 {
		return fmt.Errorf("SIGN_MAX_RETRIES must be positive")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
