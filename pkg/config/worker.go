package config

import "time"

// WorkerConfig holds runtime configuration for the worker service.
type WorkerConfig struct {
	Environment     string
	Addr            string
	AdvertiseAddr   string
	InstanceName    string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	QueueName       string
	DockerHost      string
	StorageRoot     string
	ImageRegistry   string
	APIWSEndpoint   string
	WorkerAuthToken string
	BuildTimeout    time.Duration
	SandboxAppPort  int
	SandboxHost     string
}

// LoadWorkerConfig constructs a WorkerConfig from environment variables.
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("WORKER_ADDR", ":5000"),
		AdvertiseAddr:   GetString("WORKER_ADVERTISE_ADDR", "http://worker:5000"),
		InstanceName:    GetString("WORKER_INSTANCE_NAME", ""),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://coderoom:coderoom@db:5432/coderoom?sslmode=disable"),
		RedisAddr:       GetString("REDIS_ADDR", "redis:6379"),
		RedisPassword:   GetString("REDIS_PASSWORD", ""),
		RedisDB:         GetInt("REDIS_DB", 0),
		QueueName:       GetString("PROVISION_QUEUE", "provision_jobs"),
		DockerHost:      GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		StorageRoot:     GetString("PROJECT_STORAGE_ROOT", "/var/lib/coderoom/projects"),
		ImageRegistry:   GetString("DOCKER_REGISTRY", "coderoom"),
		APIWSEndpoint:   GetString("API_WS_ENDPOINT", "ws://api:4000/ws/terminal"),
		WorkerAuthToken: GetString("WORKER_AUTH_TOKEN", ""),
		BuildTimeout:    time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 600)) * time.Second,
		SandboxAppPort:  GetInt("SANDBOX_APP_PORT", 8080),
		SandboxHost:     GetString("SANDBOX_HOST", "localhost"),
	}
}
