package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/product-lens/internal/camera"
	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/eleven-am/product-lens/internal/journal"
	"github.com/eleven-am/product-lens/internal/metrics"
	"github.com/eleven-am/product-lens/internal/results"
	"github.com/eleven-am/product-lens/internal/stream"
)

var (
	ErrInvalidImage = errors.New("invalid image")
	// ErrSuperseded is returned when a still result arrives after the mode or
	// image it was requested for has been left.
	ErrSuperseded = errors.New("result superseded by a newer session change")
)

type Streamer interface {
	Start(ctx context.Context, onPrediction func(detection.PredictionSet)) error
	Stop()
	State() stream.State
	Done() <-chan struct{}
	Err() error
	SessionID() string
}

type Predictor interface {
	PredictOnce(ctx context.Context, img detection.Image) (detection.PredictionSet, error)
	SaveDetections(ctx context.Context, img detection.Image, predictions []detection.Prediction) (detection.SavedSet, error)
}

type History interface {
	Append(ctx context.Context, sessionID string, set detection.PredictionSet) error
}

type Journal interface {
	Record(ctx context.Context, entry journal.Entry) (*journal.SavedDetection, error)
}

type ControllerConfig struct {
	Device    camera.Device
	Streamer  Streamer
	Predictor Predictor
	Cache     *results.Cache
	History   History
	Journal   Journal
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	CaptureQuality     float64
	CompressionQuality float64
	MaxWidth           int
	MaxHeight          int
	HistoryTimeout     time.Duration
}

// Controller is the single owner of the session mode and, through it, of the
// capture device. Mode changes are serialised and synchronous for the caller.
type Controller struct {
	device    camera.Device
	streamer  Streamer
	predictor Predictor
	cache     *results.Cache
	history   History
	journal   Journal
	metrics   *metrics.Metrics
	logger    *slog.Logger

	captureQuality     float64
	compressionQuality float64
	maxWidth           int
	maxHeight          int
	historyTimeout     time.Duration

	transition sync.Mutex

	mu            sync.Mutex
	mode          Mode
	generation    uint64
	image         *detection.Image
	streamSession string
	lastErr       error
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.CaptureQuality <= 0 {
		cfg.CaptureQuality = 0.7
	}
	if cfg.CompressionQuality <= 0 {
		cfg.CompressionQuality = 0.8
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 800
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 600
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 500 * time.Millisecond
	}
	if cfg.Cache == nil {
		cfg.Cache = results.NewCache()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Controller{
		device:             cfg.Device,
		streamer:           cfg.Streamer,
		predictor:          cfg.Predictor,
		cache:              cfg.Cache,
		history:            cfg.History,
		journal:            cfg.Journal,
		metrics:            cfg.Metrics,
		logger:             cfg.Logger.With("component", "session"),
		captureQuality:     cfg.CaptureQuality,
		compressionQuality: cfg.CompressionQuality,
		maxWidth:           cfg.MaxWidth,
		maxHeight:          cfg.MaxHeight,
		historyTimeout:     cfg.HistoryTimeout,
		mode:               ModeIdle,
	}
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Mode:      c.mode,
		SessionID: c.streamSession,
		HasImage:  c.image != nil,
		LastError: c.lastErr,
	}
	if c.image != nil {
		st.ImageName = c.image.Name
	}
	c.mu.Unlock()

	st.Connection = c.streamer.State()
	st.Sequence = c.cache.Sequence()
	return st
}

// Predictions is the set the overlay should render right now.
func (c *Controller) Predictions() detection.PredictionSet {
	return c.cache.Current()
}

func (c *Controller) EnterMode(ctx context.Context, target Mode) error {
	if _, err := ParseMode(string(target)); err != nil {
		return &detection.SessionError{From: c.Mode().String(), To: string(target), Reason: "unknown mode"}
	}

	c.transition.Lock()
	defer c.transition.Unlock()
	return c.enterLocked(ctx, target)
}

// ExitStreaming returns to idle from live streaming and does nothing in any
// other mode.
func (c *Controller) ExitStreaming() {
	c.transition.Lock()
	defer c.transition.Unlock()

	if c.Mode() != ModeLiveStreaming {
		return
	}
	c.leave(ModeLiveStreaming)
	c.setMode(ModeIdle)
}

// Shutdown leaves whatever mode is active and frees the device.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()
	return c.enterLocked(ctx, ModeIdle)
}

func (c *Controller) enterLocked(ctx context.Context, target Mode) error {
	from := c.Mode()
	if from == target {
		return nil
	}

	switch {
	case from == ModeLiveStreaming && (target == ModeStillPreview || target == ModeGalleryReview):
		return &detection.SessionError{From: from.String(), To: target.String(), Reason: "capture device is streaming; exit streaming first"}
	case from == ModeStillPreview && target == ModeLiveStreaming:
		return &detection.SessionError{From: from.String(), To: target.String(), Reason: "capture device is held by the still preview; return to idle first"}
	}

	if target == ModeLiveStreaming {
		return c.startStreaming(ctx, from)
	}

	if target == ModeStillPreview {
		if err := c.device.Acquire(ctx); err != nil {
			return fmt.Errorf("acquire capture device: %w", err)
		}
	}
	c.leave(from)
	c.setMode(target)
	return nil
}

func (c *Controller) startStreaming(ctx context.Context, from Mode) error {
	if err := c.device.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire capture device: %w", err)
	}

	if err := c.streamer.Start(ctx, c.onPrediction); err != nil {
		c.releaseDevice()
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("live streaming not started", "from", from, "error", err)
		return err
	}

	c.leave(from)
	gen := c.setMode(ModeLiveStreaming)

	c.mu.Lock()
	c.streamSession = c.streamer.SessionID()
	c.lastErr = nil
	c.mu.Unlock()

	go c.watchStream(gen, c.streamer.Done())

	c.logger.Info("live streaming started", "session_id", c.streamSession)
	return nil
}

// leave undoes what entering from acquired. The target's own resources are
// already held when this runs.
func (c *Controller) leave(from Mode) {
	switch from {
	case ModeLiveStreaming:
		c.streamer.Stop()
		c.releaseDevice()
	case ModeStillPreview:
		c.releaseDevice()
	}
}

func (c *Controller) releaseDevice() {
	if err := c.device.Release(); err != nil {
		c.logger.Warn("release capture device failed", "error", err)
	}
}

func (c *Controller) setMode(target Mode) uint64 {
	c.mu.Lock()
	from := c.mode
	c.mode = target
	c.generation++
	c.image = nil
	gen := c.generation
	c.mu.Unlock()

	c.cache.Clear()
	c.logger.Debug("session mode changed", "from", from, "to", target)
	return gen
}

func (c *Controller) watchStream(gen uint64, done <-chan struct{}) {
	<-done

	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	current := c.generation == gen && c.mode == ModeLiveStreaming
	c.mu.Unlock()
	if !current {
		return
	}

	err := c.streamer.Err()
	if !errors.Is(err, detection.ErrStreamLost) {
		return
	}

	c.leave(ModeLiveStreaming)
	c.setMode(ModeIdle)

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Error("live streaming lost, returned to idle", "error", err)
}

func (c *Controller) onPrediction(set detection.PredictionSet) {
	if c.history == nil {
		return
	}
	go c.recordHistory(c.streamer.SessionID(), set)
}

func (c *Controller) recordHistory(sessionID string, set detection.PredictionSet) {
	ctx, cancel := context.WithTimeout(context.Background(), c.historyTimeout)
	defer cancel()

	if err := c.history.Append(ctx, sessionID, set); err != nil {
		c.logger.Error("store prediction history failed", "session_id", sessionID, "seq", set.Sequence, "error", err)
	}
}

// CaptureStill pauses on a freshly captured still and predicts on it.
func (c *Controller) CaptureStill(ctx context.Context) (detection.PredictionSet, error) {
	c.transition.Lock()
	if err := c.enterLocked(ctx, ModeStillPreview); err != nil {
		c.transition.Unlock()
		return detection.PredictionSet{}, err
	}

	data, err := c.device.Capture(ctx, c.captureQuality)
	if err != nil {
		c.transition.Unlock()
		return detection.PredictionSet{}, fmt.Errorf("capture still: %w", err)
	}

	img := detection.Image{Name: "capture.jpg", ContentType: "image/jpeg", Data: data}
	gen := c.setImage(img)
	c.transition.Unlock()

	return c.predict(ctx, gen, ModeStillPreview, img)
}

// ReviewImage loads a picked image into gallery review and predicts on it.
func (c *Controller) ReviewImage(ctx context.Context, img detection.Image) (detection.PredictionSet, error) {
	if !img.Valid() {
		return detection.PredictionSet{}, detection.ErrNoImage
	}

	data, err := camera.Encode(img.Data, c.compressionQuality, c.maxWidth, c.maxHeight)
	if err != nil {
		return detection.PredictionSet{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	normalized := detection.Image{Name: img.Name, ContentType: "image/jpeg", Data: data}
	if normalized.Name == "" {
		normalized.Name = "gallery.jpg"
	}

	c.transition.Lock()
	if err := c.enterLocked(ctx, ModeGalleryReview); err != nil {
		c.transition.Unlock()
		return detection.PredictionSet{}, err
	}
	gen := c.setImage(normalized)
	c.transition.Unlock()

	return c.predict(ctx, gen, ModeGalleryReview, normalized)
}

func (c *Controller) setImage(img detection.Image) uint64 {
	c.mu.Lock()
	c.image = &img
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.cache.Clear()
	return gen
}

func (c *Controller) predict(ctx context.Context, gen uint64, mode Mode, img detection.Image) (detection.PredictionSet, error) {
	set, err := c.predictor.PredictOnce(ctx, img)
	c.metrics.ObserveStill("predict", err)
	if err != nil {
		c.logger.Warn("still prediction failed", "mode", mode, "error", err)
		return detection.PredictionSet{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen || c.mode != mode {
		c.logger.Debug("discarding superseded still result", "mode", mode)
		return detection.PredictionSet{}, ErrSuperseded
	}

	set.Sequence = c.cache.Sequence() + 1
	if set.ReceivedAt.IsZero() {
		set.ReceivedAt = time.Now()
	}
	c.cache.Apply(set)
	c.metrics.PredictionsApplied.Inc()

	return c.cache.Current(), nil
}

// SaveCurrent submits the image under review with the predictions currently
// shown for it.
func (c *Controller) SaveCurrent(ctx context.Context) (detection.SavedSet, error) {
	c.mu.Lock()
	var img detection.Image
	hasImage := c.image != nil
	if hasImage {
		img = *c.image
	}
	mode := c.mode
	sessionID := c.streamSession
	c.mu.Unlock()

	if !hasImage {
		return detection.SavedSet{}, detection.ErrNoImage
	}

	predictions := c.cache.Current().Predictions
	saved, err := c.predictor.SaveDetections(ctx, img, predictions)
	c.metrics.ObserveStill("save", err)
	if err != nil {
		return detection.SavedSet{}, err
	}

	c.logger.Info("detections saved", "mode", mode, "products", len(saved.Products))

	if c.journal != nil {
		_, err := c.journal.Record(ctx, journal.Entry{
			SessionID:   sessionID,
			Source:      mode.String(),
			ImageName:   img.Name,
			Predictions: predictions,
			Saved:       saved,
		})
		if err != nil {
			c.logger.Error("record saved detections failed", "error", err)
		}
	}

	return saved, nil
}
