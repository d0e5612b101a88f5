package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/devicealert/internal/store"
	"github.com/obsidianstack/devicealert/pkg/types"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeSink records every notification it is given.
type fakeSink struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *fakeSink) Send(_ context.Context, _ Destination, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *fakeSink) Sent() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...)
}

type fakeDevices struct {
	dev types.Device
	err error
}

func (f fakeDevices) Device(context.Context, string) (types.Device, error) { return f.dev, f.err }

// fakeConns returns whatever conn holds at call time.
type fakeConns struct {
	mu   sync.Mutex
	conn types.ConnectionInfo
	err  error
}

func (f *fakeConns) Connection(context.Context, string) (types.ConnectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn, f.err
}

func (f *fakeConns) Set(c types.ConnectionInfo) {
	f.mu.Lock()
	f.conn = c
	f.mu.Unlock()
}

type fakeTags struct {
	mu     sync.Mutex
	values map[string]any
	err    error
}

func (f *fakeTags) AggregateTags(context.Context, string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values, f.err
}

// losingStore fails every compare-and-set, as if another writer got there first.
type losingStore struct {
	*store.Memory
}

func (losingStore) CompareAndSet(context.Context, string, string, any, any) (bool, error) {
	return false, nil
}

var errBoom = errors.New("boom")

func baseRules() RuleSet {
	return RuleSet{
		Destination:       Destination{Type: "slack", URL: "https://hooks.example.com/x", Username: "Doover Alerts", Timeout: 30 * time.Second},
		IncludeDeviceName: true,
		ChannelEnabled:    true,
		ChannelTemplate:   "New message on {channel} from {device}: {data}",
		OfflineThreshold:  30 * time.Minute,
		OfflineReminder:   60 * time.Minute,
		AlertNeverSeen:    true,
	}
}

func f64(v float64) *float64 { return &v }

type rig struct {
	engine *Engine
	store  *store.Memory
	sink   *fakeSink
	conns  *fakeConns
	tags   *fakeTags
	clock  *clock
	hist   *History
}

func newRig(t *testing.T, rs RuleSet) *rig {
	t.Helper()
	r := &rig{
		store: store.NewMemory(),
		sink:  &fakeSink{},
		conns: &fakeConns{},
		tags:  &fakeTags{},
		clock: &clock{t: t0},
		hist:  NewHistory(0),
	}
	e, err := New(Deps{
		Rules:       func() RuleSet { return rs },
		Store:       r.store,
		Sink:        r.sink,
		Devices:     fakeDevices{dev: types.Device{ID: "dev-1", Name: "Pump Station"}},
		Connections: r.conns,
		Tags:        r.tags,
		Observers:   []Observer{r.hist},
		Now:         r.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.engine = e
	return r
}

func (r *rig) get(t *testing.T, key string) (any, bool) {
	t.Helper()
	v, ok, err := r.store.Get(context.Background(), "dev-1", key)
	if err != nil {
		t.Fatalf("store get %s: %v", key, err)
	}
	return v, ok
}

func offlineSince(at time.Time) types.ConnectionInfo {
	return types.ConnectionInfo{OnlineAt: at, Determination: "offline"}
}
