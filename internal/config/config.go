package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the processing service.
type Config struct {
	Env             string
	Host            string
	Port            string
	MaxWorkers      int
	CancelGrace     time.Duration
	ShutdownTimeout time.Duration

	InputDir     string
	OutputDir    string
	ProfilesPath string

	FFmpegPath  string
	FFprobePath string

	UploadMaxBytes int64

	RateLimitRPS   float64
	RateLimitBurst int

	OutputDestination string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3PathStyle       bool
}

// Load reads configuration from environment variables with sane defaults for
// local development.
func Load() Config {
	return Config{
		Env:             getEnv("APP_ENV", "dev"),
		Host:            getEnv("API_HOST", "0.0.0.0"),
		Port:            getEnv("API_PORT", "8000"),
		MaxWorkers:      getEnvInt("MAX_WORKERS", 4),
		CancelGrace:     getEnvDuration("CANCEL_GRACE", 10*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		InputDir:     getEnv("INPUT_DIR", "input"),
		OutputDir:    getEnv("OUTPUT_DIR", "output"),
		ProfilesPath: getEnv("PROFILES_PATH", "config/profiles.yaml"),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		UploadMaxBytes: getEnvInt64("UPLOAD_MAX_BYTES", 2*1024*1024*1024),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 50),

		OutputDestination: getEnv("OUTPUT_DESTINATION", "local"),
		S3Bucket:          getEnv("OUTPUT_S3_BUCKET", ""),
		S3Region:          getEnv("OUTPUT_S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("OUTPUT_S3_ENDPOINT", ""),
		S3PathStyle:       getEnvBool("OUTPUT_S3_PATH_STYLE", false),
	}
}

// Addr joins host and port for the HTTP listener.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
