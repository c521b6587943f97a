package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	CORSOrigin  string
	MirrorDir   string

	MeiliURL       string
	MeiliMasterKey string

	// MinIO - empty endpoint disables the eviction archive.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// Model backend for POST /api/chat.
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Chat endpoint resolution for outbound turns.
	ChatBaseURL string
	DevOrigin   string
}

func Load() Config {
	return Config{
		Addr:        getenv("API_ADDR", ":8787"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		CORSOrigin:  getenv("INKWELL_CORS_ORIGIN", "*"),
		MirrorDir:   getenv("INKWELL_MIRROR_DIR", "./data/mirror"),

		MeiliURL:       getenv("MEILI_URL", "http://localhost:7700"),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", "inkwell-meili-key"),

		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),

		OpenAIAPIKey:  getenv("OPENAI_API_KEY", ""),
		OpenAIModel:   getenv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", ""),

		ChatBaseURL: getenv("INKWELL_CHAT_BASE_URL", ""),
		DevOrigin:   getenv("INKWELL_DEV_ORIGIN", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
