package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"github.com/eleven-am/product-lens/internal/camera"
	"github.com/eleven-am/product-lens/internal/control"
	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/eleven-am/product-lens/internal/diagnostics"
	"github.com/eleven-am/product-lens/internal/journal"
	"github.com/eleven-am/product-lens/internal/metrics"
	"github.com/eleven-am/product-lens/internal/results"
	"github.com/eleven-am/product-lens/internal/session"
	"github.com/eleven-am/product-lens/internal/stream"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func ProvideCamera(cfg *Config, logger *slog.Logger) camera.Device {
	return camera.NewDirectorySource(cfg.CameraSourceDir, camera.Settings{
		MaxWidth:  cfg.MaxImageWidth,
		MaxHeight: cfg.MaxImageHeight,
	}, logger)
}

func ProvideDetectionClient(cfg *Config) *detection.Client {
	return detection.NewClient(detection.Config{
		BaseURL:   cfg.DetectBaseURL,
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.PredictRateLimit,
	})
}

func ProvideDialer() stream.Dialer {
	return stream.NewWSDialer(nil)
}

// The stream client and the controller must share one cache: live results
// and still results land in the same place.
func ProvideStreamClient(cfg *Config, dialer stream.Dialer, device camera.Device, cache *results.Cache, m *metrics.Metrics, logger *slog.Logger) *stream.Client {
	return stream.NewClient(stream.ClientConfig{
		Config: stream.Config{
			URL:                  cfg.DetectWSURL,
			CaptureInterval:      cfg.CaptureInterval,
			Quality:              cfg.StreamQuality,
			ConnectTimeout:       cfg.ConnectTimeout,
			ReconnectInterval:    cfg.ReconnectInterval,
			MaxReconnectAttempts: cfg.MaxReconnects,
		},
		Dialer:  dialer,
		Source:  device,
		Cache:   cache,
		Metrics: m,
		Logger:  logger,
	})
}

func ProvideHistoryStore(redisClient *redis.Client, cfg *Config) *session.HistoryStore {
	return session.NewHistoryStore(redisClient, cfg.HistoryTTL)
}

func ProvideJournal(db *gorm.DB) *journal.Store {
	return journal.NewStore(db)
}

type ControllerParams struct {
	fx.In

	Config    *Config
	Device    camera.Device
	Streamer  *stream.Client
	Predictor *detection.Client
	Cache     *results.Cache
	History   *session.HistoryStore
	Journal   *journal.Store
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func ProvideController(p ControllerParams) *session.Controller {
	return session.NewController(session.ControllerConfig{
		Device:             p.Device,
		Streamer:           p.Streamer,
		Predictor:          p.Predictor,
		Cache:              p.Cache,
		History:            p.History,
		Journal:            p.Journal,
		Metrics:            p.Metrics,
		Logger:             p.Logger,
		CaptureQuality:     p.Config.CameraQuality,
		CompressionQuality: p.Config.CompressionQuality,
		MaxWidth:           p.Config.MaxImageWidth,
		MaxHeight:          p.Config.MaxImageHeight,
	})
}

func ProvideTester(cfg *Config, client *detection.Client, dialer stream.Dialer, logger *slog.Logger) *diagnostics.Tester {
	return diagnostics.NewTester(diagnostics.TesterConfig{
		Backend:   client,
		Dialer:    dialer,
		WSURL:     cfg.DetectWSURL,
		WSTimeout: cfg.ConnectTimeout,
		Logger:    logger,
	})
}

func ProvideControlHandler(ctrl *session.Controller, history *session.HistoryStore, store *journal.Store, logger *slog.Logger) *control.Handler {
	return control.NewHandler(ctrl, history, store, logger.With("handler", "control"))
}

func RunMigrations(store *journal.Store) error {
	return store.Migrate()
}

func RegisterRoutes(e *echo.Echo, h *control.Handler) {
	h.RegisterRoutes(e.Group("/api/v1"))
}

// ManageController releases the capture device and closes any live stream
// before the process exits.
func ManageController(lc fx.Lifecycle, ctrl *session.Controller, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down session", "mode", ctrl.Mode().String())
			return ctrl.Shutdown(ctx)
		},
	})
}

var LensModule = fx.Options(
	fx.Provide(
		ProvideMetrics,
		results.NewCache,
		ProvideCamera,
		ProvideDetectionClient,
		ProvideDialer,
		ProvideStreamClient,
		ProvideHistoryStore,
		ProvideJournal,
		ProvideController,
		ProvideTester,
		ProvideControlHandler,
	),
	fx.Invoke(RunMigrations, RegisterRoutes, ManageController),
)
