package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultMaxEvents       = 10000
	defaultStorageCapacity = 1000
	defaultPersistBuffer   = 1024
	defaultPersistTimeout  = 5 * time.Second
	alertTimeout           = 10 * time.Second
)

// Logger records audit events in a bounded newest-first window and persists
// each one asynchronously to a Store.
type Logger struct {
	store    Store
	logger   *zap.Logger
	alerter  Alerter
	listener Listener
	metrics  *metrics.Metrics
	now      func() time.Time

	persistTimeout time.Duration

	mu     sync.RWMutex
	events *ring
	closed bool

	queue  chan Event
	done   chan struct{}
	alerts sync.WaitGroup
}

// Option customizes a Logger
type Option func(*Logger)

// WithAlerter replaces the default log-only alerter
func WithAlerter(a Alerter) Option {
	return func(l *Logger) { l.alerter = a }
}

// WithListener registers an observer of every logged event
func WithListener(li Listener) Option {
	return func(l *Logger) { l.listener = li }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New creates an audit logger and starts its persistence worker
func New(cfg config.AuditConfig, store Store, log *zap.Logger, opts ...Option) *Logger {
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	buffer := cfg.PersistBuffer
	if buffer <= 0 {
		buffer = defaultPersistBuffer
	}
	timeout := cfg.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	if store == nil {
		store = NewMemoryStore(cfg.Storage.Capacity)
	}

	l := &Logger{
		store:          store,
		logger:         log,
		alerter:        NewLogAlerter(log),
		now:            time.Now,
		persistTimeout: timeout,
		events:         newRing(maxEvents),
		queue:          make(chan Event, buffer),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.persistLoop()

	log.Info("Audit logger initialized",
		zap.Int("max_events", maxEvents),
		zap.Int("persist_buffer", buffer))

	return l
}

// Init rehydrates the in-memory window from the store. Events logged before
// Init stay ahead of the loaded ones.
func (l *Logger) Init(ctx context.Context) error {
	loaded, err := l.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load audit events: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.events.newestFirst()
	l.events.reset()
	for i := len(loaded) - 1; i >= 0; i-- {
		l.events.push(loaded[i])
	}
	for i := len(current) - 1; i >= 0; i-- {
		l.events.push(current[i])
	}

	l.logger.Info("Audit log loaded", zap.Int("events", len(loaded)))
	return nil
}

// Close stops accepting events, flushes queued persistence and waits for
// in-flight alerts. It does not close the store.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	l.alerts.Wait()
	return nil
}

// Log records an event. The event is in the in-memory window when Log
// returns; persistence and alerting happen afterwards and their failures are
// only logged.
func (l *Logger) Log(ctx context.Context, userID string, action Action, resourceType ResourceType, resourceID string, payload Payload, risk RiskLevel) (Event, error) {
	details := Details{}
	if payload != nil {
		if d := payload.Details(); d != nil {
			details = d
		}
	}
	client := ClientFromContext(ctx)

	event := Event{
		ID:              uuid.NewString(),
		Timestamp:       l.now(),
		UserID:          userID,
		Action:          action,
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		Details:         details,
		RiskLevel:       risk,
		ComplianceFlags: complianceFlags(action, details, risk),
		IPAddress:       client.IPAddress,
		UserAgent:       client.UserAgent,
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Event{}, ErrClosed
	}
	l.events.push(event)
	l.enqueue(event)
	alert := risk.elevated() && l.alerter != nil
	if alert {
		l.alerts.Add(1)
	}
	l.mu.Unlock()

	l.metrics.AuditEventLogged(string(action), string(risk))
	if l.listener != nil {
		l.listener.OnEvent(event)
	}
	if alert {
		go l.alert(event)
	}

	l.logger.Debug("Audit event logged",
		zap.String("event_id", event.ID),
		zap.String("action", string(action)),
		zap.String("risk_level", string(risk)))

	return event.clone(), nil
}

// LogPHIDetection records a phi_detected event. High confidence detections
// are high risk, everything else medium.
func (l *Logger) LogPHIDetection(ctx context.Context, userID, resourceID string, phiTypes []string, confidence string, matchCount int) (Event, error) {
	risk := RiskMedium
	if confidence == "high" {
		risk = RiskHigh
	}
	return l.Log(ctx, userID, ActionPHIDetected, ResourceData, resourceID, PHIDetectionDetails{
		PHITypes:   phiTypes,
		Confidence: confidence,
		MatchCount: matchCount,
	}, risk)
}

// LogPHIRedaction records a phi_redacted event
func (l *Logger) LogPHIRedaction(ctx context.Context, userID, resourceID string, redactionCount int, redactionMethod string) (Event, error) {
	return l.Log(ctx, userID, ActionPHIRedacted, ResourceData, resourceID, PHIRedactionDetails{
		RedactionCount:  redactionCount,
		RedactionMethod: redactionMethod,
	}, RiskMedium)
}

// LogFileOperation records a low risk file event keyed by file name
func (l *Logger) LogFileOperation(ctx context.Context, userID string, action Action, fileName string, fileSize int64, fileType string) (Event, error) {
	return l.Log(ctx, userID, action, ResourceFile, fileName, FileDetails{
		FileName: fileName,
		FileSize: fileSize,
		FileType: fileType,
	}, RiskLow)
}

// enqueue hands event to the persistence worker. Caller holds l.mu.
func (l *Logger) enqueue(event Event) {
	select {
	case l.queue <- event:
	default:
		l.metrics.PersistDropped()
		l.logger.Warn("Audit persistence queue full, event kept in memory only",
			zap.String("event_id", event.ID))
	}
}

func (l *Logger) persistLoop() {
	defer close(l.done)

	for event := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.persistTimeout)
		err := l.store.Persist(ctx, event)
		cancel()

		if err != nil {
			l.metrics.PersistFailed()
			l.logger.Warn("Failed to persist audit event",
				zap.String("event_id", event.ID),
				zap.String("action", string(event.Action)),
				zap.Error(err))
		}
	}
}

func (l *Logger) alert(event Event) {
	defer l.alerts.Done()
	defer func() {
		if r := recover(); r != nil {
			l.metrics.AlertFailed()
			l.logger.Warn("High risk alert panicked",
				zap.String("event_id", event.ID),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	if err := l.alerter.Alert(ctx, event); err != nil {
		l.metrics.AlertFailed()
		l.logger.Warn("High risk alert failed",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// ring is a fixed capacity event buffer that overwrites its oldest entry
type ring struct {
	buf      []Event
	next     int
	capacity int
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity}
}

func (r *ring) push(e Event) {
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, e)
		return
	}
	r.buf[r.next] = e
	r.next = (r.next + 1) % r.capacity
}

func (r *ring) len() int {
	return len(r.buf)
}

// at returns the i-th newest event
func (r *ring) at(i int) Event {
	n := len(r.buf)
	return r.buf[((r.next-1-i)%n+n)%n]
}

func (r *ring) newestFirst() []Event {
	out := make([]Event, r.len())
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring) reset() {
	r.buf = nil
	r.next = 0
}
