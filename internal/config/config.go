package config

import (
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	ServiceName = "MDitD"
	Version     = "1.0.0"

	envPrefix = "MDITD_"
	mib       = 1024 * 1024
)

var portPattern = regexp.MustCompile(`^[0-9]{1,5}$`)

type Config struct {
	Host     string
	Port     string
	LogLevel string
	LogFile  string

	ProjectRoot string
	UploadsDir  string
	OutputDir   string

	MaxFileSize        int64
	MaxTotalSize       int64
	MaxFilesCount      int
	MinFileSize        int64
	UploadChunkSize    int
	MaxConcurrentFiles int
	MaxOutputDirLength int
	RequestTimeout     time.Duration
	Frontmatter        bool

	CORSOrigins        []string
	RateLimitRPS       float64
	RateLimitBurst     int
	MaxInflightUploads int
	BackpressureWait   time.Duration
	MaxConnections     int

	NATSURL     string
	NATSSubject string

	PostgresDSN string
}

func Load() Config {
	return Config{
		Host:     mustEnv("HOST", "0.0.0.0"),
		Port:     mustEnv("PORT", "8001"),
		LogLevel: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		LogFile:  mustEnv("LOG_FILE", ""),

		ProjectRoot: mustEnv("PROJECT_ROOT", "."),
		UploadsDir:  mustEnv("UPLOADS_DIR", "uploads"),
		OutputDir:   mustEnv("OUTPUT_DIR", "vystup"),

		MaxFileSize:        mustEnvInt64("MAX_FILE_SIZE", 100*mib),
		MaxTotalSize:       mustEnvInt64("MAX_TOTAL_SIZE", 500*mib),
		MaxFilesCount:      mustEnvInt("MAX_FILES_COUNT", 20),
		MinFileSize:        mustEnvInt64("MIN_FILE_SIZE", 1),
		UploadChunkSize:    mustEnvInt("UPLOAD_CHUNK_SIZE", 8192),
		MaxConcurrentFiles: mustEnvInt("MAX_CONCURRENT_FILES", runtime.NumCPU()),
		MaxOutputDirLength: mustEnvInt("MAX_OUTPUT_DIR_LENGTH", 100),
		RequestTimeout:     time.Duration(mustEnvInt("REQUEST_TIMEOUT_SECONDS", 300)) * time.Second,
		Frontmatter:        mustEnvBool("FRONTMATTER", false),

		CORSOrigins:        splitList(mustEnv("CORS_ORIGINS", "*")),
		RateLimitRPS:       mustEnvFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst:     mustEnvInt("RATE_LIMIT_BURST", 0),
		MaxInflightUploads: mustEnvInt("MAX_INFLIGHT_UPLOADS", 8),
		BackpressureWait:   time.Duration(mustEnvInt("BACKPRESSURE_WAIT_MS", 250)) * time.Millisecond,
		MaxConnections:     mustEnvInt("MAX_CONNECTIONS", 0),

		NATSURL:     mustEnv("NATS_URL", ""),
		NATSSubject: mustEnv("NATS_SUBJECT", "mditd.batch.completed"),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),
	}
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Match(portPattern).Error("must be a port number")),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
		validation.Field(&c.OutputDir, validation.Required),
		validation.Field(&c.UploadsDir, validation.Required),
		validation.Field(&c.MaxFileSize, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.MaxTotalSize, validation.Required, validation.Min(c.MaxFileSize).Error("must be at least the max file size")),
		validation.Field(&c.MaxFilesCount, validation.Required, validation.Min(1)),
		validation.Field(&c.MinFileSize, validation.Min(int64(0))),
		validation.Field(&c.UploadChunkSize, validation.Required, validation.Min(512)),
		validation.Field(&c.MaxConcurrentFiles, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxOutputDirLength, validation.Required, validation.Min(1), validation.Max(255)),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RateLimitRPS, validation.Min(0.0)),
		validation.Field(&c.MaxInflightUploads, validation.Min(0)),
		validation.Field(&c.MaxConnections, validation.Min(0)),
	)
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
