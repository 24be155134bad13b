package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() config.AuditConfig {
	return config.AuditConfig{
		MaxEvents:      100,
		PersistBuffer:  64,
		PersistTimeout: time.Second,
		Storage:        config.StorageConfig{Backend: "memory", Capacity: 50},
	}
}

func newTestLogger(t *testing.T, cfg config.AuditConfig, store Store, opts ...Option) *Logger {
	t.Helper()
	l := New(cfg, store, zap.NewNop(), opts...)
	t.Cleanup(func() { l.Close() })
	return l
}

// stepClock returns a clock advancing by step on every call
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start.Add(-step)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(step)
		return current
	}
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []Event
	err    error
	panic  bool
}

func (a *recordingAlerter) Alert(_ context.Context, event Event) error {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
	if a.panic {
		panic("alert sink exploded")
	}
	return a.err
}

func (a *recordingAlerter) received() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

type failingStore struct{}

func (failingStore) Persist(context.Context, Event) error {
	return errors.New("disk full")
}

func (failingStore) LoadAll(context.Context) ([]Event, error) {
	return nil, errors.New("disk unreadable")
}

// staticStore loads a fixed event list and discards writes
type staticStore struct {
	events []Event
}

func (staticStore) Persist(context.Context, Event) error {
	return nil
}

func (s staticStore) LoadAll(context.Context) ([]Event, error) {
	return s.events, nil
}

type blockingStore struct {
	MemoryStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Persist(ctx context.Context, event Event) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.MemoryStore.Persist(ctx, event)
}

type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingListener) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestLog(t *testing.T) {
	t.Run("phi detection flags", func(t *testing.T) {
		l := newTestLogger(t, testConfig(), nil)

		event, err := l.Log(context.Background(), "u1", ActionPHIDetected, ResourceData, "doc1",
			Fields{"phiTypes": []string{"SSN"}, "confidence": "high", "matchCount": 1}, RiskHigh)
		require.NoError(t, err)

		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
		assert.ElementsMatch(t, []string{FlagPHIDetection, FlagHighRiskPHI}, event.ComplianceFlags)
		assert.Equal(t, "doc1", event.ResourceID)
		assert.Equal(t, []string{"SSN"}, event.Details["phiTypes"])
	})

	t.Run("newest first", func(t *testing.T) {
		l := newTestLogger(t, testConfig(), nil)

		var ids []string
		for i := 0; i < 7; i++ {
			e, err := l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, "r", nil, RiskLow)
			require.NoError(t, err)
			ids = append(ids, e.ID)
		}

		events := l.GetEvents(Filter{})
		require.Len(t, events, 7)
		assert.Equal(t, ids[6], events[0].ID)
		for i, e := range events {
			assert.Equal(t, ids[6-i], e.ID)
		}
	})

	t.Run("unique ids", func(t *testing.T) {
		l := newTestLogger(t, testConfig(), nil)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = l.Log(context.Background(), "u", ActionDataAccessed, ResourceData, "r", nil, RiskLow)
			}()
		}
		wg.Wait()

		seen := make(map[string]bool)
		for _, e := range l.GetEvents(Filter{}) {
			assert.False(t, seen[e.ID])
			seen[e.ID] = true
		}
		assert.Len(t, seen, 20)
	})

	t.Run("evicts oldest beyond capacity", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxEvents = 3
		l := newTestLogger(t, cfg, nil)

		var last Event
		for i := 0; i < 5; i++ {
			e, err := l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, string(rune('a'+i)), nil, RiskLow)
			require.NoError(t, err)
			last = e
		}

		events := l.GetEvents(Filter{})
		require.Len(t, events, 3)
		assert.Equal(t, last.ID, events[0].ID)
		assert.Equal(t, []string{"e", "d", "c"}, []string{events[0].ResourceID, events[1].ResourceID, events[2].ResourceID})
	})

	t.Run("client metadata", func(t *testing.T) {
		l := newTestLogger(t, testConfig(), nil)
		ctx := WithClient(context.Background(), "10.0.0.9", "curl/8.0")

		e, err := l.Log(ctx, "u1", ActionSystemLogin, ResourceSystem, "session", nil, RiskLow)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.9", e.IPAddress)
		assert.Equal(t, "curl/8.0", e.UserAgent)
		assert.Empty(t, e.ComplianceFlags)
		assert.NotNil(t, e.Details)
	})

	t.Run("closed", func(t *testing.T) {
		l := New(testConfig(), nil, zap.NewNop())
		require.NoError(t, l.Close())
		require.NoError(t, l.Close())

		_, err := l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, "r", nil, RiskLow)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestPersistence(t *testing.T) {
	t.Run("persisted newest first and capped", func(t *testing.T) {
		store := NewMemoryStore(2)
		l := New(testConfig(), store, zap.NewNop())

		var ids []string
		for i := 0; i < 4; i++ {
			e, err := l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, "r", nil, RiskLow)
			require.NoError(t, err)
			ids = append(ids, e.ID)
		}
		require.NoError(t, l.Close())

		stored, err := store.LoadAll(context.Background())
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, ids[3], stored[0].ID)
		assert.Equal(t, ids[2], stored[1].ID)
		assert.Len(t, l.GetEvents(Filter{}), 4)
	})

	t.Run("failing store never surfaces", func(t *testing.T) {
		l := New(testConfig(), failingStore{}, zap.NewNop())

		e, err := l.Log(context.Background(), "u1", ActionPHIRedacted, ResourceData, "doc", nil, RiskMedium)
		require.NoError(t, err)
		require.NoError(t, l.Close())

		events := l.GetEvents(Filter{})
		require.Len(t, events, 1)
		assert.Equal(t, e.ID, events[0].ID)
	})

	t.Run("full queue drops persistence only", func(t *testing.T) {
		store := &blockingStore{
			MemoryStore: MemoryStore{capacity: 10},
			started:     make(chan struct{}),
			release:     make(chan struct{}),
		}
		cfg := testConfig()
		cfg.PersistBuffer = 1
		l := New(cfg, store, zap.NewNop())

		_, err := l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, "first", nil, RiskLow)
		require.NoError(t, err)
		<-store.started

		for _, id := range []string{"second", "third"} {
			_, err := l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, id, nil, RiskLow)
			require.NoError(t, err)
		}

		close(store.release)
		require.NoError(t, l.Close())

		assert.Equal(t, 2, store.Len())
		assert.Len(t, l.GetEvents(Filter{}), 3)
	})

	t.Run("init rehydrates", func(t *testing.T) {
		store := NewMemoryStore(10)
		first := New(testConfig(), store, zap.NewNop())
		var ids []string
		for i := 0; i < 3; i++ {
			e, err := first.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, "r", nil, RiskLow)
			require.NoError(t, err)
			ids = append(ids, e.ID)
		}
		require.NoError(t, first.Close())

		second := newTestLogger(t, testConfig(), store)
		require.NoError(t, second.Init(context.Background()))

		events := second.GetEvents(Filter{})
		require.Len(t, events, 3)
		assert.Equal(t, ids[2], events[0].ID)
		assert.Equal(t, ids[0], events[2].ID)
	})

	t.Run("init keeps newer events ahead", func(t *testing.T) {
		l := New(testConfig(), staticStore{events: []Event{{ID: "old"}}}, zap.NewNop())
		e, err := l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, "r", nil, RiskLow)
		require.NoError(t, err)
		require.NoError(t, l.Init(context.Background()))
		require.NoError(t, l.Close())

		events := l.GetEvents(Filter{})
		require.Len(t, events, 2)
		assert.Equal(t, e.ID, events[0].ID)
		assert.Equal(t, "old", events[1].ID)
	})

	t.Run("init load failure", func(t *testing.T) {
		l := newTestLogger(t, testConfig(), failingStore{})
		assert.Error(t, l.Init(context.Background()))
	})
}

func TestAlerts(t *testing.T) {
	t.Run("only elevated risk alerts", func(t *testing.T) {
		alerter := &recordingAlerter{}
		l := New(testConfig(), nil, zap.NewNop(), WithAlerter(alerter))

		for _, risk := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
			_, err := l.Log(context.Background(), "u1", ActionSecurityViolation, ResourceSystem, string(risk), nil, risk)
			require.NoError(t, err)
		}
		require.NoError(t, l.Close())

		got := alerter.received()
		require.Len(t, got, 2)
		resources := []string{got[0].ResourceID, got[1].ResourceID}
		assert.ElementsMatch(t, []string{"high", "critical"}, resources)
	})

	t.Run("failing alerter", func(t *testing.T) {
		alerter := &recordingAlerter{err: errors.New("pager offline")}
		l := New(testConfig(), nil, zap.NewNop(), WithAlerter(alerter))

		_, err := l.LogPHIDetection(context.Background(), "u1", "doc", []string{"SSN"}, "high", 1)
		require.NoError(t, err)
		require.NoError(t, l.Close())
		assert.Len(t, alerter.received(), 1)
		assert.Len(t, l.GetEvents(Filter{}), 1)
	})

	t.Run("panicking alerter", func(t *testing.T) {
		alerter := &recordingAlerter{panic: true}
		l := New(testConfig(), nil, zap.NewNop(), WithAlerter(alerter))

		_, err := l.Log(context.Background(), "u1", ActionSecurityViolation, ResourceSystem, "x", nil, RiskCritical)
		require.NoError(t, err)
		assert.NotPanics(t, func() { require.NoError(t, l.Close()) })
		assert.Len(t, l.GetEvents(Filter{}), 1)
	})

	t.Run("multi alerter joins errors", func(t *testing.T) {
		ok := &recordingAlerter{}
		bad := &recordingAlerter{err: errors.New("boom")}
		err := MultiAlerter{ok, bad}.Alert(context.Background(), Event{ID: "e"})
		assert.EqualError(t, err, "boom")
		assert.Len(t, ok.received(), 1)
	})

	t.Run("listener sees every event", func(t *testing.T) {
		listener := &recordingListener{}
		l := newTestLogger(t, testConfig(), nil, WithListener(listener))

		_, _ = l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, "a", nil, RiskLow)
		_, _ = l.Log(context.Background(), "u1", ActionDataAccessed, ResourceData, "b", nil, RiskLow)
		assert.Len(t, listener.events, 2)
	})
}

func TestConvenienceConstructors(t *testing.T) {
	l := newTestLogger(t, testConfig(), nil)
	ctx := context.Background()

	t.Run("detection", func(t *testing.T) {
		high, err := l.LogPHIDetection(ctx, "u1", "doc1", []string{"SSN", "Email"}, "high", 2)
		require.NoError(t, err)
		assert.Equal(t, ActionPHIDetected, high.Action)
		assert.Equal(t, ResourceData, high.ResourceType)
		assert.Equal(t, RiskHigh, high.RiskLevel)
		assert.Equal(t, []string{FlagPHIDetection, FlagHighRiskPHI}, high.ComplianceFlags)
		assert.Equal(t, 2, high.Details["matchCount"])

		medium, err := l.LogPHIDetection(ctx, "u1", "doc2", []string{"Email"}, "medium", 1)
		require.NoError(t, err)
		assert.Equal(t, RiskMedium, medium.RiskLevel)
		assert.Equal(t, []string{FlagPHIDetection}, medium.ComplianceFlags)
	})

	t.Run("redaction", func(t *testing.T) {
		e, err := l.LogPHIRedaction(ctx, "u1", "doc1", 3, "mask")
		require.NoError(t, err)
		assert.Equal(t, ActionPHIRedacted, e.Action)
		assert.Equal(t, RiskMedium, e.RiskLevel)
		assert.Equal(t, []string{FlagPHIRedaction}, e.ComplianceFlags)
		assert.Equal(t, "mask", e.Details["redactionMethod"])
	})

	t.Run("file operation", func(t *testing.T) {
		e, err := l.LogFileOperation(ctx, "u1", ActionFileUploaded, "patients.csv", 2048, "csv")
		require.NoError(t, err)
		assert.Equal(t, ResourceFile, e.ResourceType)
		assert.Equal(t, "patients.csv", e.ResourceID)
		assert.Equal(t, RiskLow, e.RiskLevel)
		assert.Equal(t, []string{FlagStructuredUpload}, e.ComplianceFlags)
		assert.Equal(t, int64(2048), e.Details["fileSize"])
	})
}

func TestRing(t *testing.T) {
	r := newRing(3)
	assert.Empty(t, r.newestFirst())

	for _, id := range []string{"a", "b"} {
		r.push(Event{ID: id})
	}
	assert.Equal(t, "b", r.at(0).ID)
	assert.Equal(t, "a", r.at(1).ID)

	for _, id := range []string{"c", "d", "e"} {
		r.push(Event{ID: id})
	}
	ids := make([]string, 0, r.len())
	for _, e := range r.newestFirst() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e", "d", "c"}, ids)
}
