package detection

import (
	"encoding/json"
	"slices"
	"time"
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
}

// BBox is x1, y1, x2, y2 in source-image pixel space.
type BBox [4]float64

func (b BBox) Width() float64 {
	return b[2] - b[0]
}

func (b BBox) Height() float64 {
	return b[3] - b[1]
}

type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// PredictionSet is only ever replaced as a whole, never mutated in place.
type PredictionSet struct {
	Sequence    uint64       `json:"sequence"`
	Predictions []Prediction `json:"predictions"`
	ReceivedAt  time.Time    `json:"received_at,omitempty"`
}

func (s PredictionSet) Empty() bool {
	return len(s.Predictions) == 0
}

func (s PredictionSet) Classes() []string {
	classes := make([]string, 0, len(s.Predictions))
	for _, p := range s.Predictions {
		if !slices.Contains(classes, p.Class) {
			classes = append(classes, p.Class)
		}
	}
	return classes
}

type Frame struct {
	Seq        uint64
	Data       []byte
	CapturedAt time.Time
}

type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

func (i *Image) Valid() bool {
	return i != nil && len(i.Data) > 0
}

type SavedSet struct {
	Products []json.RawMessage `json:"saved_products"`
	SavedAt  time.Time         `json:"saved_at"`
}

type predictResponse struct {
	Predictions []Prediction `json:"predictions"`
}

type saveResponse struct {
	SavedProducts []json.RawMessage `json:"saved_products"`
}

// StreamMessage is the server push on the live endpoint. Predictions is nil
// when the message carried no "predictions" key.
type StreamMessage struct {
	Predictions *[]Prediction `json:"predictions"`
}

func DecodeStreamMessage(data []byte) (StreamMessage, error) {
	var msg StreamMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
