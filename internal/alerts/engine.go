package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/devicealert/internal/metrics"
	"github.com/obsidianstack/devicealert/pkg/types"
)

const defaultLookupTimeout = 10 * time.Second

// DeviceLookup resolves device metadata.
type DeviceLookup interface {
	Device(ctx context.Context, deviceID string) (types.Device, error)
}

// ConnectionLookup reports a device's connection status.
type ConnectionLookup interface {
	Connection(ctx context.Context, deviceID string) (types.ConnectionInfo, error)
}

// TagLookup returns the latest aggregate tag values of a device.
type TagLookup interface {
	AggregateTags(ctx context.Context, deviceID string) (map[string]any, error)
}

// Deps are the collaborators of an Engine. Rules, Store and Sink are
// required; a nil lookup disables the checks that need it.
type Deps struct {
	Rules       func() RuleSet
	Store       StateStore
	Sink        Sink
	Devices     DeviceLookup
	Connections ConnectionLookup
	Tags        TagLookup

	// LookupTimeout bounds each lookup call (default 10s).
	LookupTimeout time.Duration

	Observers []Observer

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Report summarises one invocation.
type Report struct {
	DeviceID string   `json:"device_id"`
	Trigger  string   `json:"trigger"`
	Sent     int      `json:"sent"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
	Records  []Record `json:"records,omitempty"`
}

// Result converts the report to its wire form.
func (r Report) Result() types.EventResult {
	return types.EventResult{
		DeviceID: r.DeviceID,
		Trigger:  r.Trigger,
		Sent:     r.Sent,
		Failed:   r.Failed,
		Skipped:  r.Skipped,
		Errors:   r.Errors,
	}
}

// Engine evaluates channel, offline and threshold alerts for devices.
//
// Engine is safe for concurrent use. Invocations for the same device are
// serialized; different devices run in parallel.
type Engine struct {
	rules         func() RuleSet
	store         StateStore
	devices       DeviceLookup
	conns         ConnectionLookup
	tags          TagLookup
	lookupTimeout time.Duration
	observers     []Observer
	now           func() time.Time

	dispatch *dispatcher
	locks    keyedMutex
}

// New creates an Engine.
func New(d Deps) (*Engine, error) {
	if d.Rules == nil || d.Store == nil || d.Sink == nil {
		return nil, errors.New("alerts: rules, store and sink are required")
	}
	if d.LookupTimeout <= 0 {
		d.LookupTimeout = defaultLookupTimeout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	swap, _ := d.Store.(Swapper)

	return &Engine{
		rules:         d.Rules,
		store:         d.Store,
		devices:       d.Devices,
		conns:         d.Connections,
		tags:          d.Tags,
		lookupTimeout: d.LookupTimeout,
		observers:     d.Observers,
		now:           d.Now,
		dispatch: &dispatcher{
			store: d.Store,
			swap:  swap,
			sink:  d.Sink,
			now:   d.Now,
			newID: uuid.NewString,
		},
	}, nil
}

// HandleMessage evaluates the channel alert for a received message.
func (e *Engine) HandleMessage(ctx context.Context, ev types.MessageEvent) Report {
	rep := Report{DeviceID: ev.DeviceID, Trigger: types.TriggerMessage}
	if err := ev.Validate(); err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}
	defer e.observe(time.Now(), &rep)

	unlock := e.locks.Lock(ev.DeviceID)
	defer unlock()

	rs := e.rules()
	if !rs.ChannelEnabled {
		slog.Debug("alerts: channel alerts disabled", "device", ev.DeviceID, "channel", ev.ChannelName)
		return rep
	}
	if !rs.Destination.Configured() {
		slog.Warn("alerts: webhook not configured, skipping alert", "device", ev.DeviceID)
		return rep
	}

	name := e.deviceName(ctx, rs, ev.DeviceID)
	plan := evaluateChannel(rs, ev, name)
	e.dispatch.run(ctx, ev.DeviceID, rs.Destination, []Plan{plan}, &rep)
	return rep
}

// HandleTick runs the periodic checks for a device: offline detection, then
// tag thresholds. Each check is isolated; a failure in one never stops the
// other.
func (e *Engine) HandleTick(ctx context.Context, deviceID string) Report {
	rep := Report{DeviceID: deviceID, Trigger: types.TriggerTick}
	if deviceID == "" {
		rep.Errors = append(rep.Errors, "device_id is required")
		return rep
	}
	defer e.observe(time.Now(), &rep)

	unlock := e.locks.Lock(deviceID)
	defer unlock()

	rs := e.rules()
	if !rs.OfflineEnabled && !rs.ThresholdsEnabled {
		return rep
	}
	if !rs.Destination.Configured() {
		slog.Warn("alerts: webhook not configured, skipping checks", "device", deviceID)
		return rep
	}

	name := e.deviceName(ctx, rs, deviceID)
	if rs.OfflineEnabled {
		e.checkOffline(ctx, rs, deviceID, name, &rep)
	}
	if rs.ThresholdsEnabled {
		e.checkThresholds(ctx, rs, deviceID, name, &rep)
	}
	return rep
}

func (e *Engine) checkOffline(ctx context.Context, rs RuleSet, deviceID, name string, rep *Report) {
	if e.conns == nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	conn, err := e.conns.Connection(lctx, deviceID)
	cancel()
	if err != nil {
		e.lookupFailed(rep, "connection", deviceID, err)
		return
	}

	st, err := LoadOfflineState(ctx, e.store, deviceID)
	if err != nil {
		e.lookupFailed(rep, "state", deviceID, err)
		return
	}

	plan, next := evaluateOffline(rs, conn, st, name, e.now())
	if next != st.Phase {
		slog.Info("alerts: offline phase changed", "device", deviceID,
			"from", st.Phase.String(), "to", next.String())
	}
	e.dispatch.run(ctx, deviceID, rs.Destination, []Plan{plan}, rep)
}

func (e *Engine) checkThresholds(ctx context.Context, rs RuleSet, deviceID, name string, rep *Report) {
	if len(rs.Thresholds) == 0 || e.tags == nil {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	values, err := e.tags.AggregateTags(lctx, deviceID)
	cancel()
	if err != nil {
		e.lookupFailed(rep, "tags", deviceID, err)
		return
	}

	cooldowns := make(map[string]any, len(rs.Thresholds))
	for _, r := range rs.Thresholds {
		if r.Tag == "" {
			continue
		}
		if _, done := cooldowns[r.Tag]; done {
			continue
		}
		v, _, err := e.store.Get(ctx, deviceID, CooldownKey(r.Tag))
		if err != nil {
			slog.Warn("alerts: could not read cooldown, skipping rule",
				"device", deviceID, "tag", r.Tag, "err", err)
			metrics.LookupFailures.WithLabelValues("state").Inc()
			continue
		}
		cooldowns[r.Tag] = v
	}

	plans := evaluateThresholds(rs, values, cooldowns, name, e.now())
	e.dispatch.run(ctx, deviceID, rs.Destination, plans, rep)
}

// deviceName resolves the label used in messages. Lookup failures fall back
// to the raw device ID.
func (e *Engine) deviceName(ctx context.Context, rs RuleSet, deviceID string) string {
	if !rs.IncludeDeviceName {
		return UnknownDevice
	}
	if e.devices == nil {
		return deviceID
	}
	lctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	d, err := e.devices.Device(lctx, deviceID)
	if err != nil {
		slog.Warn("alerts: device lookup failed, using id", "device", deviceID, "err", err)
		metrics.LookupFailures.WithLabelValues("device").Inc()
		return deviceID
	}
	if d.ID == "" {
		d.ID = deviceID
	}
	return d.Label()
}

func (e *Engine) lookupFailed(rep *Report, lookup, deviceID string, err error) {
	slog.Warn("alerts: lookup failed, check skipped", "lookup", lookup, "device", deviceID, "err", err)
	metrics.LookupFailures.WithLabelValues(lookup).Inc()
	rep.Errors = append(rep.Errors, lookup+" lookup: "+err.Error())
}

func (e *Engine) observe(start time.Time, rep *Report) {
	metrics.Invocations.WithLabelValues(rep.Trigger).Inc()
	metrics.InvocationDuration.WithLabelValues(rep.Trigger).Observe(time.Since(start).Seconds())
	for _, rec := range rep.Records {
		for _, o := range e.observers {
			o.Observe(rec)
		}
	}
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
