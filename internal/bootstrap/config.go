package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const wsPredictPath = "/ws/predict"

type Config struct {
	ServerAddr string
	LogLevel   string

	DetectBaseURL     string
	DetectWSURL       string
	RequestTimeout    time.Duration
	PredictRateLimit  float64
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	MaxReconnects     int

	CaptureInterval    time.Duration
	CameraQuality      float64
	StreamQuality      float64
	MaxImageWidth      int
	MaxImageHeight     int
	CompressionQuality float64
	CameraSourceDir    string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HistoryTTL    time.Duration
}

func LoadConfig() *Config {
	baseURL := strings.TrimRight(getEnv("DETECT_API_BASE_URL", "http://192.168.1.100:8000"), "/")

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8090"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		DetectBaseURL:     baseURL,
		DetectWSURL:       getEnv("DETECT_WS_URL", deriveWSURL(baseURL)),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		PredictRateLimit:  getEnvFloat("PREDICT_RATE_LIMIT", 2),
		ConnectTimeout:    getEnvDuration("WS_CONNECT_TIMEOUT", 5*time.Second),
		ReconnectInterval: getEnvDuration("WS_RECONNECT_INTERVAL", 3*time.Second),
		MaxReconnects:     getEnvInt("WS_MAX_RECONNECT_ATTEMPTS", 5),

		CaptureInterval:    getEnvDuration("CAPTURE_INTERVAL", time.Second),
		CameraQuality:      getEnvFloat("CAMERA_QUALITY", 0.7),
		StreamQuality:      getEnvFloat("STREAM_QUALITY", 0.3),
		MaxImageWidth:      getEnvInt("MAX_IMAGE_WIDTH", 800),
		MaxImageHeight:     getEnvInt("MAX_IMAGE_HEIGHT", 600),
		CompressionQuality: getEnvFloat("COMPRESSION_QUALITY", 0.8),
		CameraSourceDir:    getEnv("CAMERA_SOURCE_DIR", "./frames"),

		DatabaseDSN: getEnv("DATABASE_DSN", "product-lens.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		HistoryTTL:    getEnvDuration("HISTORY_TTL", 10*time.Minute),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if err := checkURL(c.DetectBaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("DETECT_API_BASE_URL: %w", err))
	}
	if err := checkURL(c.DetectWSURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("DETECT_WS_URL: %w", err))
	}
	for name, q := range map[string]float64{
		"CAMERA_QUALITY":      c.CameraQuality,
		"STREAM_QUALITY":      c.StreamQuality,
		"COMPRESSION_QUALITY": c.CompressionQuality,
	} {
		if q <= 0 || q > 1 {
			errs = append(errs, fmt.Errorf("%s: must be in (0, 1], got %v", name, q))
		}
	}
	if c.CaptureInterval <= 0 {
		errs = append(errs, errors.New("CAPTURE_INTERVAL: must be positive"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("WS_CONNECT_TIMEOUT: must be positive"))
	}
	if c.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("WS_RECONNECT_INTERVAL: must be positive"))
	}
	if c.MaxReconnects < 0 {
		errs = append(errs, errors.New("WS_MAX_RECONNECT_ATTEMPTS: must not be negative"))
	}
	if c.MaxImageWidth <= 0 || c.MaxImageHeight <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_WIDTH/MAX_IMAGE_HEIGHT: must be positive"))
	}
	if c.PredictRateLimit < 0 {
		errs = append(errs, errors.New("PREDICT_RATE_LIMIT: must not be negative"))
	}

	return errors.Join(errs...)
}

// deriveWSURL maps the HTTP base to its prediction socket:
// http -> ws, https -> wss.
func deriveWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + wsPredictPath
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + wsPredictPath
	default:
		return baseURL + wsPredictPath
	}
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme %q not one of %s", u.Scheme, strings.Join(schemes, ", "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
