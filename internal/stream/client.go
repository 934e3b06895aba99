package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/eleven-am/product-lens/internal/metrics"
	"github.com/eleven-am/product-lens/internal/results"
	"github.com/google/uuid"
)

var ErrAlreadyStarted = errors.New("stream already started")

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

type FrameSource interface {
	Capture(ctx context.Context, quality float64) ([]byte, error)
}

type Config struct {
	URL                  string
	CaptureInterval      time.Duration
	Quality              float64
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	PendingLimit         int
}

type ClientConfig struct {
	Config
	Dialer  Dialer
	Source  FrameSource
	Cache   *results.Cache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Client owns one live prediction session at a time: it streams frames on
// a fixed cadence, applies pushed predictions to the cache and reconnects
// within a bounded budget.
type Client struct {
	cfg     Config
	dialer  Dialer
	source  FrameSource
	cache   *results.Cache
	metrics *metrics.Metrics
	logger  *slog.Logger

	seq atomic.Uint64

	mu      sync.Mutex
	state   State
	active  *run
	lastErr error

	// held while a prediction is applied and forwarded; Stop takes it after
	// cancelling so nothing dispatches past Stop.
	dispatchMu sync.Mutex
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = time.Second
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 0.3
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = 32
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

	return &Client{
		cfg:     cfg.Config,
		dialer:  cfg.Dialer,
		source:  cfg.Source,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "stream-client"),
	}
}

type run struct {
	id           string
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	onPrediction func(detection.PredictionSet)

	connMu sync.Mutex
	conn   Conn
	closed bool

	// owned by the run loop
	pending  []uint64
	lastSent uint64
}

func (r *run) setConn(conn Conn) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.closed {
		_ = conn.Close()
		return
	}
	r.conn = conn
}

func (r *run) closeConn() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	r.closed = true
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

func (r *run) markSent(seq uint64, limit int) {
	r.pending = append(r.pending, seq)
	if len(r.pending) > limit {
		r.pending = r.pending[len(r.pending)-limit:]
	}
	r.lastSent = seq
}

// nextExpected pairs a pushed result with the oldest unanswered frame. The
// backend does not echo an id, so this is a best-effort guess.
func (r *run) nextExpected() uint64 {
	if len(r.pending) == 0 {
		return r.lastSent
	}
	seq := r.pending[0]
	r.pending = r.pending[1:]
	return seq
}

func (c *Client) Start(ctx context.Context, onPrediction func(detection.PredictionSet)) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:           uuid.NewString(),
		ctx:          runCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
		onPrediction: onPrediction,
	}
	c.active = r
	c.lastErr = nil
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	logger := c.logger.With("session_id", r.id)

	dialCtx, dialCancel := context.WithCancel(runCtx)
	stopAfter := context.AfterFunc(ctx, dialCancel)
	conn, err := c.dial(dialCtx)
	stopAfter()
	dialCancel()

	if err != nil {
		connectErr := &detection.ConnectError{URL: c.cfg.URL, Err: err}
		c.mu.Lock()
		if c.active == r {
			c.active = nil
			c.lastErr = connectErr
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		cancel()
		close(r.done)
		logger.Warn("live prediction connect failed", "url", c.cfg.URL, "error", err)
		return connectErr
	}

	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		_ = conn.Close()
		close(r.done)
		return &detection.ConnectError{URL: c.cfg.URL, Err: context.Canceled}
	}
	r.setConn(conn)
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	logger.Info("live prediction stream connected", "url", c.cfg.URL)
	go c.loop(r, conn)
	return nil
}

// Stop never fails and may be called repeatedly. When it returns the run
// loop has exited and no prediction from that run reaches the cache or the
// callback. It must not be called from inside onPrediction.
func (c *Client) Stop() {
	c.mu.Lock()
	r := c.active
	if r == nil {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.setStateLocked(StateClosing)
	r.cancel()
	c.mu.Unlock()

	c.dispatchMu.Lock()
	c.cache.Clear()
	c.dispatchMu.Unlock()

	r.closeConn()
	<-r.done

	c.mu.Lock()
	if c.active == nil {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	c.logger.Info("live prediction stream stopped", "session_id", r.id)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current run ends, either through Stop or after
// the reconnect budget is spent.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.active.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.id
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	c.metrics.ConnectionState.Set(float64(s))
}

func (c *Client) setRunState(r *run, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == r {
		c.setStateLocked(s)
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	return c.dialer.Dial(ctx, c.cfg.URL)
}

func (c *Client) loop(r *run, conn Conn) {
	defer close(r.done)
	defer r.closeConn()

	logger := c.logger.With("session_id", r.id)

	for {
		err := c.serve(r, conn)
		if r.ctx.Err() != nil {
			return
		}
		logger.Warn("live prediction socket dropped", "error", err)

		next, err := c.reconnect(r, err)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			c.fail(r, err)
			return
		}
		conn = next
	}
}

func (c *Client) fail(r *run, err error) {
	c.mu.Lock()
	if c.active == r {
		c.active = nil
		c.lastErr = err
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	c.metrics.StreamsLost.Inc()
	c.logger.Error("live prediction stream lost", "session_id", r.id, "error", err)
}

type sendResult struct {
	seq uint64
	err error
}

// serve runs the capture ticker and inbound dispatch for one connection
// until it drops or the run is cancelled.
func (c *Client) serve(r *run, conn Conn) error {
	ctx, cancel := context.WithCancel(r.ctx)

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.CaptureInterval)
	sent := make(chan sendResult, 1)
	inFlight := false

	defer func() {
		ticker.Stop()
		cancel()
		_ = conn.Close()
		if inFlight {
			<-sent
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case data := <-inbound:
			c.dispatch(r, data)

		case <-ticker.C:
			if inFlight || c.State() != StateConnected {
				c.metrics.FramesSkipped.Inc()
				continue
			}
			inFlight = true
			go func() {
				sent <- c.sendFrame(ctx, conn)
			}()

		case res := <-sent:
			inFlight = false
			if res.err != nil {
				c.metrics.FrameErrors.Inc()
				c.logger.Debug("frame skipped", "session_id", r.id, "seq", res.seq, "error", res.err)
				continue
			}
			r.markSent(res.seq, c.cfg.PendingLimit)
		}
	}
}

func (c *Client) sendFrame(ctx context.Context, conn Conn) sendResult {
	data, err := c.source.Capture(ctx, c.cfg.Quality)
	if err != nil {
		return sendResult{err: fmt.Errorf("capture frame: %w", err)}
	}

	frame := detection.Frame{
		Seq:        c.seq.Add(1),
		Data:       data,
		CapturedAt: time.Now(),
	}

	if err := conn.WriteFrame(ctx, frame.Data); err != nil {
		return sendResult{seq: frame.Seq, err: fmt.Errorf("write frame: %w", err)}
	}

	c.metrics.FramesSent.Inc()
	return sendResult{seq: frame.Seq}
}

func (c *Client) dispatch(r *run, data []byte) {
	msg, err := detection.DecodeStreamMessage(data)
	if err != nil {
		c.metrics.MessagesDropped.Inc()
		c.logger.Warn("undecodable prediction message", "session_id", r.id, "error", err)
		return
	}
	if msg.Predictions == nil {
		return
	}

	set := detection.PredictionSet{
		Sequence:    r.nextExpected(),
		Predictions: *msg.Predictions,
		ReceivedAt:  time.Now(),
	}

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if r.ctx.Err() != nil {
		return
	}
	if !c.cache.Apply(set) {
		c.metrics.PredictionsStale.Inc()
		return
	}
	c.metrics.PredictionsApplied.Inc()

	if r.onPrediction != nil {
		r.onPrediction(set)
	}
}

func (c *Client) reconnect(r *run, cause error) (Conn, error) {
	c.setRunState(r, StateConnecting)
	r.pending = nil

	logger := c.logger.With("session_id", r.id)
	lastErr := cause

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		timer := time.NewTimer(c.cfg.ReconnectInterval)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return nil, r.ctx.Err()
		case <-timer.C:
		}

		c.metrics.ReconnectAttempts.Inc()
		conn, err := c.dial(r.ctx)
		if err == nil {
			r.setConn(conn)
			c.setRunState(r, StateConnected)
			logger.Info("live prediction stream reconnected", "attempt", attempt)
			return conn, nil
		}
		if r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}

		lastErr = err
		logger.Warn("reconnect attempt failed", "attempt", attempt, "max_attempts", c.cfg.MaxReconnectAttempts, "error", err)
	}

	return nil, &detection.StreamLostError{Attempts: c.cfg.MaxReconnectAttempts, Err: lastErr}
}
