package detection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:8000/"})
	if client == nil {
		t.Fatal("NewClient should not return nil")
	}
	if client.baseURL != "http://localhost:8000" {
		t.Errorf("expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", client.httpClient.Timeout)
	}
}

func TestNewClient_CustomTimeout(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:8000", Timeout: 5 * time.Second})
	if client.httpClient.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", client.httpClient.Timeout)
	}
}

func TestClient_PredictOnce_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/predict" {
			t.Errorf("expected /predict, got %s", r.URL.Path)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("expected file field: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "jpeg bytes" {
			t.Errorf("unexpected upload body %q", data)
		}
		if header.Filename != "image.jpg" {
			t.Errorf("expected filename image.jpg, got %s", header.Filename)
		}
		if header.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("expected image/jpeg part, got %s", header.Header.Get("Content-Type"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{
				{"class": "cola", "confidence": 0.91, "bbox": []float64{10, 20, 110, 220}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	set, err := client.PredictOnce(context.Background(), Image{Data: []byte("jpeg bytes")})
	if err != nil {
		t.Fatalf("PredictOnce failed: %v", err)
	}
	if len(set.Predictions) != 1 {
		t.Fatalf("expected 1 prediction, got %d", len(set.Predictions))
	}
	p := set.Predictions[0]
	if p.Class != "cola" || p.Confidence != 0.91 {
		t.Errorf("unexpected prediction %+v", p)
	}
	if p.BBox != (BBox{10, 20, 110, 220}) {
		t.Errorf("unexpected bbox %v", p.BBox)
	}
	if p.BBox.Width() != 100 || p.BBox.Height() != 200 {
		t.Errorf("unexpected bbox size %vx%v", p.BBox.Width(), p.BBox.Height())
	}
}

func TestClient_PredictOnce_MissingPredictions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	set, err := client.PredictOnce(context.Background(), Image{Data: []byte("x")})
	if err != nil {
		t.Fatalf("PredictOnce failed: %v", err)
	}
	if set.Predictions == nil || len(set.Predictions) != 0 {
		t.Errorf("expected empty non-nil predictions, got %v", set.Predictions)
	}
}

func TestClient_PredictOnce_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.PredictOnce(context.Background(), Image{Data: []byte("x")})
	if err == nil {
		t.Fatal("expected error")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if reqErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", reqErr.StatusCode)
	}
	if !errors.Is(err, ErrRequest) {
		t.Error("expected errors.Is(err, ErrRequest)")
	}
}

func TestClient_PredictOnce_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: url})
	_, err := client.PredictOnce(context.Background(), Image{Data: []byte("x")})

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != 0 {
		t.Errorf("expected no status code, got %d", reqErr.StatusCode)
	}
}

func TestClient_PredictOnce_NoImage(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:1"})
	if _, err := client.PredictOnce(context.Background(), Image{}); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestClient_SaveDetections_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/add_to_database" {
			t.Errorf("expected /add_to_database, got %s", r.URL.Path)
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("expected file field: %v", err)
		}
		if header.Filename != "detected_products.jpg" {
			t.Errorf("expected detected_products.jpg, got %s", header.Filename)
		}

		var preds []Prediction
		if err := json.Unmarshal([]byte(r.FormValue("predictions")), &preds); err != nil {
			t.Fatalf("predictions field not JSON: %v", err)
		}
		if len(preds) != 2 {
			t.Errorf("expected 2 predictions, got %d", len(preds))
		}

		w.Write([]byte(`{"saved_products":[{"id":1,"class":"cola"},{"id":2,"class":"chips"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	saved, err := client.SaveDetections(context.Background(), Image{Data: []byte("img")}, []Prediction{
		{Class: "cola", Confidence: 0.9},
		{Class: "chips", Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("SaveDetections failed: %v", err)
	}
	if len(saved.Products) != 2 {
		t.Errorf("expected 2 saved products, got %d", len(saved.Products))
	}
	if saved.SavedAt.IsZero() {
		t.Error("SavedAt should be set")
	}
}

func TestClient_SaveDetections_Validation(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:1"})
	ctx := context.Background()

	tests := []struct {
		name  string
		img   Image
		preds []Prediction
		want  error
	}{
		{"no image", Image{}, []Prediction{{Class: "a"}}, ErrNoImage},
		{"no predictions", Image{Data: []byte("x")}, nil, ErrNoPredictions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.SaveDetections(ctx, tt.img, tt.preds)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClient_Ping(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("expected ping to succeed, got %v", err)
	}

	status = http.StatusServiceUnavailable
	if err := client.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail on 503")
	}
}

func TestClient_ProbePredict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	code, err := client.ProbePredict(context.Background())
	if err != nil {
		t.Fatalf("ProbePredict failed: %v", err)
	}
	if code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions":[]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, RateLimit: 0.01})
	if _, err := client.PredictOnce(context.Background(), Image{Data: []byte("x")}); err != nil {
		t.Fatalf("first request should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.PredictOnce(ctx, Image{Data: []byte("x")})
	if !errors.Is(err, ErrRequest) {
		t.Errorf("expected throttled request to fail with RequestError, got %v", err)
	}
}
