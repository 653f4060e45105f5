// Package eventsink implements the EventSink of spec.md §4.14/§9: a
// tagged-variant set of outbound channels (http, websocket, mqtt, nats),
// each with its own bounded queue, exponential-backoff retry and
// oldest-drop overflow policy. One goroutine per configured channel
// drains its queue — grounded on internal/nvr/nats_publisher.go's
// retry-with-backoff loop in the teacher repo — and is joined by
// Close(), never fire-and-forget.
package eventsink

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/visionserve/internal/model"
)

// Kind is the closed set of sink transports, replacing the original's
// string-typed protocol field per spec.md §9.
type Kind int

const (
	KindHTTP Kind = iota
	KindWebSocket
	KindMQTT
	KindNATS
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindWebSocket:
		return "websocket"
	case KindMQTT:
		return "mqtt"
	case KindNATS:
		return "nats"
	default:
		return "unknown"
	}
}

// Channel is one outbound transport. Send should return promptly;
// long-lived retry/backoff is the sink's job, not the channel's.
type Channel interface {
	Kind() Kind
	Name() string
	Send(ctx context.Context, ev model.Event) error
	Close() error
}

// Config bundles the tunables named in spec.md §6.
type Config struct {
	QueueDepth  int           // default 1024
	MaxAttempts int           // default 5
	BackoffBase time.Duration // default 200ms
	BackoffMax  time.Duration // default 10s
	SendTimeout time.Duration // default 5s
}

// DefaultConfig returns the spec.md §6 defaults (queue depth 1024;
// the rest are this package's own retry tuning, not spec-mandated).
func DefaultConfig() Config {
	return Config{QueueDepth: 1024, MaxAttempts: 5, BackoffBase: 200 * time.Millisecond, BackoffMax: 10 * time.Second, SendTimeout: 5 * time.Second}
}

// queue is a mutex-guarded ring that drops the oldest entry on overflow
// rather than blocking the producer, per spec.md's "non-blocking emit"
// requirement.
type queue struct {
	mu      sync.Mutex
	items   []model.Event
	depth   int
	notify  chan struct{}
	dropped atomic.Uint64
}

func newQueue(depth int) *queue {
	return &queue{depth: depth, notify: make(chan struct{}, 1)}
}

func (q *queue) push(ev model.Event) {
	q.mu.Lock()
	if len(q.items) >= q.depth {
		q.items = q.items[1:]
		q.dropped.Add(1)
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (model.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// sinkWorker owns one Channel's queue and its draining goroutine.
type sinkWorker struct {
	channel  Channel
	cfg      Config
	logger   *log.Logger
	queue    *queue
	degraded atomic.Bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

func newSinkWorker(ch Channel, cfg Config, logger *log.Logger) *sinkWorker {
	w := &sinkWorker{channel: ch, cfg: cfg, logger: logger, queue: newQueue(cfg.QueueDepth), stop: make(chan struct{})}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *sinkWorker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-w.queue.notify:
		}
		for {
			ev, ok := w.queue.pop()
			if !ok {
				break
			}
			w.sendWithRetry(ev)
		}
	}
}

func (w *sinkWorker) sendWithRetry(ev model.Event) {
	backoff := w.cfg.BackoffBase
	attempts := w.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SendTimeout)
		err := w.channel.Send(ctx, ev)
		cancel()
		if err == nil {
			w.degraded.Store(false)
			return
		}
		w.logger.Printf("eventsink[%s/%s]: send attempt %d failed: %v", w.channel.Kind(), w.channel.Name(), attempt+1, err)
		select {
		case <-w.stop:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.cfg.BackoffMax {
			backoff = w.cfg.BackoffMax
		}
	}
	w.degraded.Store(true)
	w.logger.Printf("eventsink[%s/%s]: giving up on event %s after %d attempts, marking degraded", w.channel.Kind(), w.channel.Name(), ev.EventID, attempts)
}

func (w *sinkWorker) close() {
	close(w.stop)
	w.wg.Wait()
	w.channel.Close()
}

// Sink fans an Event out to every configured Channel.
type Sink struct {
	logger  *log.Logger
	workers []*sinkWorker
}

// New constructs a Sink over the given channels, one worker per channel.
func New(channels []Channel, cfg Config, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	s := &Sink{logger: logger}
	for _, ch := range channels {
		s.workers = append(s.workers, newSinkWorker(ch, cfg, logger))
	}
	return s
}

// Emit enqueues ev on every channel's queue without blocking; a full
// queue silently drops its oldest entry, tracked by DroppedCount.
func (s *Sink) Emit(ev model.Event) {
	for _, w := range s.workers {
		w.queue.push(ev)
	}
}

// DroppedCount sums overflow drops across all channels.
func (s *Sink) DroppedCount() uint64 {
	var total uint64
	for _, w := range s.workers {
		total += w.queue.dropped.Load()
	}
	return total
}

// Degraded reports which channel names currently have a channel failing
// to deliver (exhausted retries on their most recent event).
func (s *Sink) Degraded() map[string]bool {
	out := make(map[string]bool, len(s.workers))
	for _, w := range s.workers {
		out[w.channel.Name()] = w.degraded.Load()
	}
	return out
}

// Close stops every worker, waiting for each worker goroutine to exit,
// and closes every channel. Events still queued are not delivered.
func (s *Sink) Close() {
	for _, w := range s.workers {
		w.close()
	}
}
