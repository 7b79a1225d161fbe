package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Yashground/video-processing-app-sub000/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Port           string
	DBPath         string
	CacheDir       string
	WorkDir        string
	ServiceURL     string
	ServiceToken   string
	MediaBaseURL   string
	AuthToken      string
	Workers        int
	SegmentWorkers int
	MaxPending     int
	MaxRetries     int
	CacheMaxBytes  int64
	CacheMaxAge    time.Duration
	LogLevel       string
	LogFormat      string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", constants.DefaultPort),
		DBPath:         getEnv("DB_PATH", constants.DefaultDBPath),
		CacheDir:       getEnv("CACHE_DIR", constants.DefaultCacheDir),
		WorkDir:        getEnv("WORK_DIR", constants.DefaultWorkDir),
		ServiceURL:     getEnv("TRANSCRIBE_URL", constants.DefaultServiceURL),
		ServiceToken:   getEnv("TRANSCRIBE_TOKEN", ""),
		MediaBaseURL:   getEnv("MEDIA_URL", constants.DefaultMediaURL),
		AuthToken:      getEnv("AUTH_TOKEN", ""),
		Workers:        getEnvInt("WORKERS", constants.DefaultConcurrency),
		SegmentWorkers: getEnvInt("SEGMENT_WORKERS", constants.DefaultSegmentWorkers),
		MaxPending:     getEnvInt("MAX_PENDING", constants.DefaultMaxPending),
		MaxRetries:     getEnvInt("MAX_RETRIES", constants.DefaultMaxRetries),
		CacheMaxBytes:  getEnvInt64("CACHE_MAX_BYTES", constants.DefaultCacheMaxBytes),
		CacheMaxAge:    getEnvDuration("CACHE_MAX_AGE", constants.DefaultCacheMaxAge),
		LogLevel:       getEnv("LOG_LEVEL", constants.DefaultLogLevel),
		LogFormat:      getEnv("LOG_FORMAT", constants.DefaultLogFormat),
	}
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	// Validate Port
	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	// Validate paths
	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}
	if c.CacheDir == "" {
		errors = append(errors, "CACHE_DIR cannot be empty")
	}
	if c.WorkDir == "" {
		errors = append(errors, "WORK_DIR cannot be empty")
	}

	// Validate ServiceURL
	if c.ServiceURL == "" {
		errors = append(errors, "TRANSCRIBE_URL cannot be empty")
	} else {
		if _, err := url.Parse(c.ServiceURL); err != nil {
			errors = append(errors, fmt.Sprintf("TRANSCRIBE_URL is not a valid URL: %s", c.ServiceURL))
		}
	}

	// Validate MediaBaseURL
	if c.MediaBaseURL == "" {
		errors = append(errors, "MEDIA_URL cannot be empty")
	} else {
		if _, err := url.Parse(c.MediaBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("MEDIA_URL is not a valid URL: %s", c.MediaBaseURL))
		}
	}

	// Validate AuthToken
	if c.AuthToken == "" {
		errors = append(errors, "AUTH_TOKEN cannot be empty")
	}

	// Validate limits
	if c.Workers < 1 {
		errors = append(errors, fmt.Sprintf("WORKERS must be at least 1, got: %d", c.Workers))
	}
	if c.SegmentWorkers < 1 {
		errors = append(errors, fmt.Sprintf("SEGMENT_WORKERS must be at least 1, got: %d", c.SegmentWorkers))
	}
	if c.MaxPending < 1 {
		errors = append(errors, fmt.Sprintf("MAX_PENDING must be at least 1, got: %d", c.MaxPending))
	}
	if c.MaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("MAX_RETRIES cannot be negative, got: %d", c.MaxRetries))
	}
	if c.CacheMaxBytes < 1 {
		errors = append(errors, fmt.Sprintf("CACHE_MAX_BYTES must be positive, got: %d", c.CacheMaxBytes))
	}
	if c.CacheMaxAge <= 0 {
		errors = append(errors, fmt.Sprintf("CACHE_MAX_AGE must be positive, got: %s", c.CacheMaxAge))
	}

	// Validate LogLevel
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	// Validate LogFormat
	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
