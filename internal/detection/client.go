package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	predictPath = "/predict"
	savePath    = "/add_to_database"

	predictFileName = "image.jpg"
	saveFileName    = "detected_products.jpg"
	defaultMimeType = "image/jpeg"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) PredictOnce(ctx context.Context, img Image) (PredictionSet, error) {
	const op = "predict"

	if !img.Valid() {
		return PredictionSet{}, ErrNoImage
	}

	body, contentType, err := encodeUpload(img, predictFileName, nil)
	if err != nil {
		return PredictionSet{}, &RequestError{Op: op, Err: err}
	}

	var resp predictResponse
	if err := c.post(ctx, op, predictPath, body, contentType, &resp); err != nil {
		return PredictionSet{}, err
	}

	predictions := resp.Predictions
	if predictions == nil {
		predictions = []Prediction{}
	}

	return PredictionSet{
		Predictions: predictions,
		ReceivedAt:  time.Now(),
	}, nil
}

func (c *Client) SaveDetections(ctx context.Context, img Image, predictions []Prediction) (SavedSet, error) {
	const op = "save detections"

	if !img.Valid() {
		return SavedSet{}, ErrNoImage
	}
	if len(predictions) == 0 {
		return SavedSet{}, ErrNoPredictions
	}

	encoded, err := json.Marshal(predictions)
	if err != nil {
		return SavedSet{}, fmt.Errorf("marshal predictions: %w", err)
	}

	body, contentType, err := encodeUpload(img, saveFileName, map[string]string{
		"predictions": string(encoded),
	})
	if err != nil {
		return SavedSet{}, &RequestError{Op: op, Err: err}
	}

	var resp saveResponse
	if err := c.post(ctx, op, savePath, body, contentType, &resp); err != nil {
		return SavedSet{}, err
	}

	products := resp.SavedProducts
	if products == nil {
		products = []json.RawMessage{}
	}

	return SavedSet{
		Products: products,
		SavedAt:  time.Now(),
	}, nil
}

// Ping checks that the backend root answers with a 2xx.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return &RequestError{Op: "ping", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Op: "ping", StatusCode: resp.StatusCode}
	}
	return nil
}

// ProbePredict posts a placeholder upload. Validation failures (400/422)
// still prove the endpoint is reachable.
func (c *Client) ProbePredict(ctx context.Context) (int, error) {
	body, contentType, err := encodeUpload(Image{Data: []byte("dummy")}, "test.jpg", nil)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func (c *Client) post(ctx context.Context, op, path string, body io.Reader, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &RequestError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func encodeUpload(img Image, fallbackName string, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := img.Name
	if name == "" {
		name = fallbackName
	}
	mediaType := img.ContentType
	if mediaType == "" {
		mediaType = defaultMimeType
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mediaType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
