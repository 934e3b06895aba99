package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var (
	ErrBusy        = errors.New("capture device busy")
	ErrNotAcquired = errors.New("capture device not acquired")
	ErrNoFrames    = errors.New("no frames available")
)

// Device is the exclusive capture device. Only the current owner may
// Capture; a second Acquire fails with ErrBusy until Release.
type Device interface {
	Acquire(ctx context.Context) error
	Release() error
	Capture(ctx context.Context, quality float64) ([]byte, error)
}

type Settings struct {
	MaxWidth  int
	MaxHeight int
}

var frameExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp"}

// DirectorySource replays the images of a directory in name order, looping
// at the end. It stands in for a camera on hosts without one.
type DirectorySource struct {
	dir      string
	settings Settings
	logger   *slog.Logger

	mu     sync.Mutex
	held   bool
	frames []string
	next   int
}

func NewDirectorySource(dir string, settings Settings, logger *slog.Logger) *DirectorySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectorySource{
		dir:      dir,
		settings: settings,
		logger:   logger.With("component", "camera", "dir", dir),
	}
}

func (d *DirectorySource) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.held {
		return ErrBusy
	}

	frames, err := scanFrames(d.dir)
	if err != nil {
		return err
	}

	d.frames = frames
	d.next = 0
	d.held = true
	d.logger.Debug("camera acquired", "frames", len(frames))
	return nil
}

func (d *DirectorySource) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.held {
		return nil
	}
	d.held = false
	d.frames = nil
	d.logger.Debug("camera released")
	return nil
}

func (d *DirectorySource) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

func (d *DirectorySource) Capture(ctx context.Context, quality float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if !d.held {
		d.mu.Unlock()
		return nil, ErrNotAcquired
	}
	path := d.frames[d.next]
	d.next = (d.next + 1) % len(d.frames)
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", filepath.Base(path), err)
	}

	return Encode(data, quality, d.settings.MaxWidth, d.settings.MaxHeight)
}

func scanFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan camera source: %w", err)
	}

	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if slices.Contains(frameExtensions, ext) {
			frames = append(frames, filepath.Join(dir, entry.Name()))
		}
	}

	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	slices.Sort(frames)
	return frames, nil
}
