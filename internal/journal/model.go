package journal

import (
	"time"

	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/eleven-am/product-lens/internal/shared"
)

// SavedDetection is one successful add_to_database call. The backend's
// product records are kept verbatim.
type SavedDetection struct {
	ID        string `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"index" json:"session_id,omitempty"`
	Source    string `gorm:"not null;index" json:"source"`
	ImageName string `json:"image_name,omitempty"`

	Classes         shared.StringSlice `gorm:"type:json" json:"classes"`
	PredictionCount int                `json:"prediction_count"`
	ProductCount    int                `json:"product_count"`
	Products        string             `gorm:"type:text" json:"-"`

	SavedAt   time.Time `gorm:"index" json:"saved_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Entry struct {
	SessionID   string
	Source      string
	ImageName   string
	Predictions []detection.Prediction
	Saved       detection.SavedSet
}
