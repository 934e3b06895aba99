package dto

import "encoding/json"

type PredictionResponse struct {
	Class      string     `json:"class" example:"coca_cola_330ml"`
	Confidence float64    `json:"confidence" example:"0.92"`
	BBox       [4]float64 `json:"bbox"`
}

type PredictionSetResponse struct {
	Sequence    uint64               `json:"sequence" example:"42"`
	Predictions []PredictionResponse `json:"predictions"`
	ReceivedAt  string               `json:"received_at,omitempty" example:"2024-01-15T10:30:00Z"`
}

type SessionStatusResponse struct {
	Mode       string `json:"mode" example:"live_streaming"`
	Connection string `json:"connection" example:"connected"`
	SessionID  string `json:"session_id,omitempty" example:"6f1c2a9e-8b8d-4c47-9a55-0d3f6c1b2e7a"`
	Sequence   uint64 `json:"sequence" example:"42"`
	HasImage   bool   `json:"has_image"`
	ImageName  string `json:"image_name,omitempty" example:"capture.jpg"`
	LastError  string `json:"last_error,omitempty"`
}

type EnterModeRequest struct {
	Mode string `json:"mode" example:"live_streaming"`
}

type SaveResponse struct {
	SavedProducts []json.RawMessage `json:"saved_products" swaggertype:"array,object"`
	SavedAt       string            `json:"saved_at" example:"2024-01-15T10:30:00Z"`
}

type HistoryEntryResponse struct {
	Sequence    uint64               `json:"sequence" example:"42"`
	Predictions []PredictionResponse `json:"predictions"`
	ReceivedAt  string               `json:"received_at" example:"2024-01-15T10:30:00Z"`
}

type HistoryResponse struct {
	SessionID string                 `json:"session_id,omitempty"`
	Entries   []HistoryEntryResponse `json:"entries"`
}

type SavedDetectionResponse struct {
	ID              string   `json:"id" example:"det_4f2a9c0b1d8e7f6a5b4c3d2e1f0a9b8c"`
	SessionID       string   `json:"session_id,omitempty"`
	Source          string   `json:"source" example:"still_preview"`
	ImageName       string   `json:"image_name,omitempty" example:"capture.jpg"`
	Classes         []string `json:"classes"`
	PredictionCount int      `json:"prediction_count" example:"3"`
	ProductCount    int      `json:"product_count" example:"2"`
	SavedAt         string   `json:"saved_at" example:"2024-01-15T10:30:00Z"`
}

type SavedListResponse struct {
	Items []SavedDetectionResponse `json:"items"`
	Total int64                    `json:"total" example:"12"`
}
