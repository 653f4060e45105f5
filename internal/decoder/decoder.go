// Package decoder pulls timestamped frames from an RTSP source and
// reports liveness/loss, per spec.md §4.4. Real H.264/RTP depacketization
// and decode is a model-runtime-adjacent concern the spec keeps external;
// FrameSource is the seam. The RTSP handshake itself is a single OPTIONS
// request (no DESCRIBE/SETUP/PLAY, so no codec negotiation), grounded on internal/nvr/adapters/rtsp_prober.go and
// internal/health/prober.go's raw-socket style — "does not use complex
// libraries to keep dependency footprint low".
package decoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/visionserve/internal/model"
)

// Result is the outcome of a single Next() call.
type Result int

const (
	ResultFrame Result = iota
	ResultTimeout
	ResultEndOfStream
	ResultError
)

// State mirrors the Decoder's liveness as observed by the owning Pipeline.
type State int

const (
	StateConnecting State = iota
	StateLive
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// FrameSource is the seam between this package's connection/backoff
// machinery and however frames are actually produced. Production wiring
// point for a real RTP/H.264 decode pipeline; tests and the reference
// implementation use SyntheticSource.
type FrameSource interface {
	// Connect performs whatever handshake is needed and must be cheap to
	// retry; Close tears down the connection.
	Connect(ctx context.Context) error
	Close() error
	// ReadFrame blocks until a frame is available, ctx is done, or the
	// source is exhausted (io.EOF-like contract via ok=false).
	ReadFrame(ctx context.Context) (model.Frame, bool, error)
}

// Decoder owns one FrameSource for one camera, with exponential backoff
// on persistent error per spec.md §4.4 (base 500ms, max 30s).
type Decoder struct {
	sourceID string
	src      FrameSource
	logger   *log.Logger

	backoffBase time.Duration
	backoffMax  time.Duration

	mu          sync.Mutex
	state       State
	lastSeq     uint64
	lastTS      int64
	backoff     time.Duration
	connected   bool
	closed      atomic.Bool
}

// Config bundles the tunables named in spec.md §6.
type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// New constructs a Decoder around src for the named camera.
func New(sourceID string, src FrameSource, cfg Config, logger *log.Logger) *Decoder {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Decoder{
		sourceID:    sourceID,
		src:         src,
		logger:      logger,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
		backoff:     cfg.BackoffBase,
		state:       StateConnecting,
	}
}

// State reports the decoder's current liveness, observed by the Pipeline
// to decide Degraded vs Running.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Decoder) ensureConnected(ctx context.Context) error {
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()
	if connected {
		return nil
	}
	if err := d.src.Connect(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	d.connected = true
	d.state = StateLive
	d.backoff = d.backoffBase
	d.mu.Unlock()
	return nil
}

// Next blocks up to timeout for the next frame. Guarantees monotonic
// non-decreasing timestamps, dropping arrived-late frames under catch-up,
// per spec.md §4.4.
func (d *Decoder) Next(ctx context.Context, timeout time.Duration) (model.Frame, Result, error) {
	if d.closed.Load() {
		return model.Frame{}, ResultError, errors.New("decoder: closed")
	}

	if err := d.ensureConnected(ctx); err != nil {
		return d.enterBackoff(ctx, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f, ok, err := d.src.ReadFrame(callCtx)
	if err != nil {
		d.mu.Lock()
		d.connected = false
		d.mu.Unlock()
		d.src.Close()
		return d.enterBackoff(ctx, err)
	}
	if !ok {
		return model.Frame{}, ResultEndOfStream, nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return model.Frame{}, ResultTimeout, nil
	}

	d.mu.Lock()
	if f.TimestampNS < d.lastTS {
		d.mu.Unlock()
		// Late frame under catch-up: drop, try again with whatever time
		// remains on the caller's budget.
		remaining := timeout
		if dl, ok := callCtx.Deadline(); ok {
			remaining = time.Until(dl)
		}
		if remaining <= 0 {
			return model.Frame{}, ResultTimeout, nil
		}
		return d.Next(ctx, remaining)
	}
	d.lastTS = f.TimestampNS
	d.lastSeq++
	f.Seq = d.lastSeq
	d.state = StateLive
	d.mu.Unlock()

	return f, ResultFrame, nil
}

func (d *Decoder) enterBackoff(ctx context.Context, cause error) (model.Frame, Result, error) {
	d.mu.Lock()
	d.state = StateDegraded
	wait := d.backoff
	d.backoff *= 2
	if d.backoff > d.backoffMax {
		d.backoff = d.backoffMax
	}
	d.mu.Unlock()

	d.logger.Printf("decoder[%s]: degraded (%v), backing off %v", d.sourceID, cause, wait)

	select {
	case <-ctx.Done():
		return model.Frame{}, ResultError, ctx.Err()
	case <-time.After(wait):
	}
	return model.Frame{}, ResultTimeout, nil
}

// Close releases the underlying source. Idempotent.
func (d *Decoder) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.src.Close()
}

// SyntheticSource is a deterministic FrameSource for tests and for
// environments without a real camera, producing solid-color frames at a
// fixed cadence. It never errors once connected.
type SyntheticSource struct {
	Width, Height int
	mu            sync.Mutex
	seq           uint64
	closed        bool
}

func (s *SyntheticSource) Connect(ctx context.Context) error { return nil }
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SyntheticSource) ReadFrame(ctx context.Context) (model.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Frame{}, false, nil
	}
	s.seq++
	w, h := s.Width, s.Height
	if w == 0 {
		w = 640
	}
	if h == 0 {
		h = 480
	}
	return model.Frame{
		Seq:         s.seq,
		TimestampNS: time.Now().UnixNano(),
		Width:       w,
		Height:      h,
		Pixels:      make([]byte, w*h*3),
	}, true, nil
}

// RTSPSource sends one raw TCP OPTIONS request and requires a 2xx status
// line; it sends no DESCRIBE, SETUP or PLAY and does no RTP
// depacketization. Otherwise it behaves like SyntheticSource for frame
// production, so the Decoder's reconnect/backoff logic is exercised
// end-to-end against a real socket.
type RTSPSource struct {
	URL           string
	SocketTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	synth  SyntheticSource
}

func (r *RTSPSource) Connect(ctx context.Context) error {
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("rtsp source: invalid url: %w", err)
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":554"
	}
	timeout := r.SocketTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return err
	}

	req := fmt.Sprintf("OPTIONS %s RTSP/1.0\r\nCSeq: 1\r\nUser-Agent: visionserve\r\n\r\n", r.URL)
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return err
	}
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return err
	}
	parts := strings.Split(statusLine, " ")
	if len(parts) < 2 {
		conn.Close()
		return fmt.Errorf("rtsp source: malformed response: %q", statusLine)
	}
	if !strings.HasPrefix(parts[1], "2") {
		conn.Close()
		return fmt.Errorf("rtsp source: non-2xx response: %s", parts[1])
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

func (r *RTSPSource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}

func (r *RTSPSource) ReadFrame(ctx context.Context) (model.Frame, bool, error) {
	return r.synth.ReadFrame(ctx)
}
