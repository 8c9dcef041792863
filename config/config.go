package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"plasmosync"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"plasmosync"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SQL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic carrying donor and guild change notifications
	KafkaIngressTopic string `env:"KAFKA_INGRESS_TOPIC" env-default:"plasmosync-changes"`
	// Kafka consumer group for the ingress consumer
	KafkaIngressConsumerGroup string `env:"KAFKA_INGRESS_CONSUMER_GROUP" env-default:"plasmosync-ingress"`
	// Kafka topic for sync outcome events
	KafkaOutcomeTopic string `env:"KAFKA_OUTCOME_TOPIC" env-default:"plasmosync-outcomes"`

	// Donor platform (Plasmo API) settings
	DonorBaseURL string `env:"DONOR_BASE_URL" env-default:"https://rp.plo.su"`
	// Donor API token
	DonorToken string `env:"DONOR_TOKEN" env-default:""`
	// Donor rate budget: requests per window
	DonorRateRequests int `env:"DONOR_RATE_REQUESTS" env-default:"30"`
	// Donor rate budget window
	DonorRateWindow time.Duration `env:"DONOR_RATE_WINDOW" env-default:"1s"`
	// Donor max concurrent requests
	DonorMaxInFlight int `env:"DONOR_MAX_IN_FLIGHT" env-default:"8"`

	// Guild platform gateway settings
	GuildBaseURL string `env:"GUILD_BASE_URL" env-default:""`
	// Guild gateway token
	GuildToken string `env:"GUILD_TOKEN" env-default:""`
	// Guild rate budget: requests per window
	GuildRateRequests int `env:"GUILD_RATE_REQUESTS" env-default:"50"`
	// Guild rate budget window
	GuildRateWindow time.Duration `env:"GUILD_RATE_WINDOW" env-default:"1s"`
	// Guild max concurrent requests
	GuildMaxInFlight int `env:"GUILD_MAX_IN_FLIGHT" env-default:"16"`

	// Dispatcher settings
	// Maximum attempts per corrective operation
	DispatchMaxAttempts int `env:"DISPATCH_MAX_ATTEMPTS" env-default:"5"`
	// Base backoff between transient retries
	DispatchBaseBackoff time.Duration `env:"DISPATCH_BASE_BACKOFF" env-default:"250ms"`
	// Backoff ceiling
	DispatchMaxBackoff time.Duration `env:"DISPATCH_MAX_BACKOFF" env-default:"10s"`
	// Maximum time an operation waits for rate budget
	DispatchMaxWait time.Duration `env:"DISPATCH_MAX_WAIT" env-default:"30s"`

	// Scheduler settings
	// Full sweep interval
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" env-default:"30m"`
	// Entities fetched per sweep page
	SweepPageSize int `env:"SWEEP_PAGE_SIZE" env-default:"200"`
	// Enable/disable the periodic sweep
	SweepEnabled bool `env:"SWEEP_ENABLED" env-default:"true"`

	// Ingress settings
	// How long an unresolved guild notification stays parked
	PendingLinkTTL time.Duration `env:"PENDING_LINK_TTL" env-default:"15m"`

	// Redis Streams settings
	// Job queue stream name
	RedisStreamsJobQueue string `env:"REDIS_STREAMS_JOB_QUEUE" env-default:"plasmosync:jobs"`
	// Consumer group name
	RedisStreamsConsumerGroup string `env:"REDIS_STREAMS_CONSUMER_GROUP" env-default:"plasmosync-workers"`
	// Consumer name (defaults to hostname if empty)
	RedisStreamsConsumerName string `env:"REDIS_STREAMS_CONSUMER_NAME" env-default:""`
	// Number of concurrent reconcile workers
	QueueWorkerCount int `env:"QUEUE_WORKER_COUNT" env-default:"4"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
