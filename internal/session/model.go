package session

import (
	"fmt"
	"time"

	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/eleven-am/product-lens/internal/stream"
)

// Mode decides who owns the capture device. Exactly one is active.
type Mode string

const (
	ModeIdle          Mode = "idle"
	ModeStillPreview  Mode = "still_preview"
	ModeGalleryReview Mode = "gallery_review"
	ModeLiveStreaming Mode = "live_streaming"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeIdle, ModeStillPreview, ModeGalleryReview, ModeLiveStreaming:
		return m, nil
	default:
		return "", fmt.Errorf("unknown session mode %q", s)
	}
}

func (m Mode) String() string {
	return string(m)
}

func (m Mode) holdsDevice() bool {
	return m == ModeStillPreview || m == ModeLiveStreaming
}

type Status struct {
	Mode       Mode
	Connection stream.State
	SessionID  string
	Sequence   uint64
	HasImage   bool
	ImageName  string
	LastError  error
}

type HistoryEntry struct {
	SessionID   string                 `json:"session_id"`
	Sequence    uint64                 `json:"sequence"`
	Predictions []detection.Prediction `json:"predictions"`
	ReceivedAt  time.Time              `json:"received_at"`
}

func historyKey(sessionID string) string {
	return "lens:" + sessionID + ":predictions"
}
