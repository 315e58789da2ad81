package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	UserAgent      string
	RequestTimeout int
	RateLimit      int
	RateBurst      int
	MetricsAddr    string

	PredictionLimit int
	SoftTimeout     time.Duration
	IdleThreshold   time.Duration
	ViewportHeight  float64

	// Device overrides; zero values mean "not reported".
	DeviceMemoryGB  float64
	DeviceCores     int
	NetworkType     string
	NetworkDownlink float64
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UserAgent:      getEnv("USER_AGENT", "SmartPrefetch/1.0"),
		RequestTimeout: getEnvInt("REQUEST_TIMEOUT", 30),
		RateLimit:      getEnvInt("RATE_LIMIT", 15),
		RateBurst:      getEnvInt("RATE_BURST", 30),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),

		PredictionLimit: getEnvInt("PREFETCH_LIMIT", 10),
		SoftTimeout:     getEnvDuration("PREFETCH_SOFT_TIMEOUT", 10*time.Second),
		IdleThreshold:   getEnvDuration("PREFETCH_IDLE_THRESHOLD", 2*time.Second),
		ViewportHeight:  getEnvFloat("VIEWPORT_HEIGHT", 800),

		DeviceMemoryGB:  getEnvFloat("DEVICE_MEMORY_GB", 0),
		DeviceCores:     getEnvInt("DEVICE_CORES", 0),
		NetworkType:     getEnv("NETWORK_TYPE", ""),
		NetworkDownlink: getEnvFloat("NETWORK_DOWNLINK", 0),
	}
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
