package detection

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPrediction_JSONShape(t *testing.T) {
	var p Prediction
	if err := json.Unmarshal([]byte(`{"class":"soda","confidence":0.5,"bbox":[1,2,3,4]}`), &p); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if p.Class != "soda" || p.Confidence != 0.5 || p.BBox != (BBox{1, 2, 3, 4}) {
		t.Errorf("unexpected prediction %+v", p)
	}
}

func TestPredictionSet_Classes(t *testing.T) {
	set := PredictionSet{Predictions: []Prediction{
		{Class: "cola"}, {Class: "chips"}, {Class: "cola"},
	}}
	classes := set.Classes()
	if len(classes) != 2 || classes[0] != "cola" || classes[1] != "chips" {
		t.Errorf("unexpected classes %v", classes)
	}
	if set.Empty() {
		t.Error("set should not be empty")
	}
	if !(PredictionSet{}).Empty() {
		t.Error("zero set should be empty")
	}
}

func TestDecodeStreamMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		present bool
		count   int
		wantErr bool
	}{
		{"with predictions", `{"predictions":[{"class":"a","confidence":1,"bbox":[0,0,1,1]}]}`, true, 1, false},
		{"empty predictions", `{"predictions":[]}`, true, 0, false},
		{"no predictions key", `{"status":"ok"}`, false, 0, false},
		{"invalid json", `not json`, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeStreamMessage([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if tt.wantErr {
				return
			}
			if (msg.Predictions != nil) != tt.present {
				t.Fatalf("expected present=%v", tt.present)
			}
			if tt.present && len(*msg.Predictions) != tt.count {
				t.Errorf("expected %d predictions, got %d", tt.count, len(*msg.Predictions))
			}
		})
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"connect", &ConnectError{URL: "ws://x", Err: cause}, ErrConnect},
		{"stream lost", &StreamLostError{Attempts: 3, Err: cause}, ErrStreamLost},
		{"request", &RequestError{Op: "predict", Err: cause}, ErrRequest},
		{"session", &SessionError{From: "a", To: "b", Reason: "busy"}, ErrSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("expected errors.Is to match sentinel")
			}
			if tt.err.Error() == "" {
				t.Error("expected non-empty message")
			}
		})
	}

	if !errors.Is(&ConnectError{Err: cause}, cause) {
		t.Error("ConnectError should unwrap to its cause")
	}
	if errors.Is(&ConnectError{Err: cause}, ErrStreamLost) {
		t.Error("ConnectError must not match ErrStreamLost")
	}
}
