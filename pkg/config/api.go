package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment     string
	Addr            string
	DatabaseURL     string
	MigrationsDir   string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	QueueName       string
	StorageRoot     string
	ProjectLimit    int
	WorkerAuthToken string
	WorkerTimeout   time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("API_ADDR", ":4000"),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://coderoom:coderoom@db:5432/coderoom?sslmode=disable"),
		MigrationsDir:   GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		RedisAddr:       GetString("REDIS_ADDR", "redis:6379"),
		RedisPassword:   GetString("REDIS_PASSWORD", ""),
		RedisDB:         GetInt("REDIS_DB", 0),
		QueueName:       GetString("PROVISION_QUEUE", "provision_jobs"),
		StorageRoot:     GetString("PROJECT_STORAGE_ROOT", "/var/lib/coderoom/projects"),
		ProjectLimit:    GetInt("PROJECT_LIMIT", 3),
		WorkerAuthToken: GetString("WORKER_AUTH_TOKEN", ""),
		WorkerTimeout:   time.Duration(GetInt("WORKER_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
	}
}
