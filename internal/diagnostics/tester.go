package diagnostics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/eleven-am/product-lens/internal/stream"
	"golang.org/x/sync/errgroup"
)

const (
	CheckBackend    = "backend"
	CheckPrediction = "prediction"
	CheckWebSocket  = "websocket"
)

const unreachableHint = "backend unreachable: confirm the server is running and DETECT_API_BASE_URL points at it"

type Backend interface {
	BaseURL() string
	Ping(ctx context.Context) error
	ProbePredict(ctx context.Context) (int, error)
}

type Check struct {
	Name       string `json:"name"`
	Target     string `json:"target"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

type Report struct {
	Checks    []Check   `json:"checks"`
	Passed    bool      `json:"passed"`
	StartedAt time.Time `json:"started_at"`
}

func (r Report) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

type TesterConfig struct {
	Backend   Backend
	Dialer    stream.Dialer
	WSURL     string
	WSTimeout time.Duration
	Logger    *slog.Logger
}

// Tester verifies that the detection backend is reachable over each of the
// transports the client uses.
type Tester struct {
	backend   Backend
	dialer    stream.Dialer
	wsURL     string
	wsTimeout time.Duration
	logger    *slog.Logger
}

func NewTester(cfg TesterConfig) *Tester {
	if cfg.WSTimeout <= 0 {
		cfg.WSTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tester{
		backend:   cfg.Backend,
		dialer:    cfg.Dialer,
		wsURL:     cfg.WSURL,
		wsTimeout: cfg.WSTimeout,
		logger:    cfg.Logger.With("component", "diagnostics"),
	}
}

func (t *Tester) CheckBackend(ctx context.Context) Check {
	check := Check{Name: CheckBackend, Target: t.backend.BaseURL() + "/"}
	start := time.Now()
	err := t.backend.Ping(ctx)
	check.LatencyMS = time.Since(start).Milliseconds()

	if err == nil {
		check.OK = true
		check.StatusCode = http.StatusOK
		return check
	}

	check.Error = err.Error()
	var reqErr *detection.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode != 0 {
		check.StatusCode = reqErr.StatusCode
	} else {
		check.Hint = unreachableHint
	}
	return check
}

// CheckPrediction treats 400 and 422 as reachable: the probe upload is not a
// real image, so a validation failure is the expected answer.
func (t *Tester) CheckPrediction(ctx context.Context) Check {
	check := Check{Name: CheckPrediction, Target: t.backend.BaseURL() + "/predict"}
	start := time.Now()
	status, err := t.backend.ProbePredict(ctx)
	check.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		check.Error = err.Error()
		check.Hint = unreachableHint
		return check
	}

	check.StatusCode = status
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		check.OK = true
	case status >= 200 && status <= 299:
		check.OK = true
	default:
		check.Error = http.StatusText(status)
	}
	return check
}

func (t *Tester) CheckWebSocket(ctx context.Context) Check {
	check := Check{Name: CheckWebSocket, Target: t.wsURL}

	ctx, cancel := context.WithTimeout(ctx, t.wsTimeout)
	defer cancel()

	start := time.Now()
	conn, err := t.dialer.Dial(ctx, t.wsURL)
	check.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		check.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			check.Error = "websocket connection timed out"
		}
		return check
	}

	_ = conn.Close()
	check.OK = true
	return check
}

// Run executes every check concurrently. A failing check never aborts the
// others.
func (t *Tester) Run(ctx context.Context) Report {
	report := Report{StartedAt: time.Now()}
	checks := []func(context.Context) Check{t.CheckBackend, t.CheckPrediction, t.CheckWebSocket}
	report.Checks = make([]Check, len(checks))

	var g errgroup.Group
	for i, run := range checks {
		i, run := i, run
		g.Go(func() error {
			report.Checks[i] = run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report.Passed = true
	for _, c := range report.Checks {
		if !c.OK {
			report.Passed = false
			t.logger.Warn("connection check failed", "check", c.Name, "target", c.Target, "error", c.Error)
		}
	}
	return report
}
