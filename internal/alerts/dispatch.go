package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/obsidianstack/devicealert/internal/metrics"
	"github.com/obsidianstack/devicealert/pkg/types"
)

const maxStatRetries = 5

// Record is one dispatched decision, delivered or not.
type Record struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Trigger   string    `json:"trigger"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Color     string    `json:"color"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives every dispatched Record.
type Observer interface {
	Observe(Record)
}

// dispatcher persists plan mutations and sends plan decisions.
type dispatcher struct {
	store StateStore
	swap  Swapper // nil when the store has no conditional writes
	sink  Sink
	now   func() time.Time
	newID func() string
}

func (d *dispatcher) run(ctx context.Context, device string, dest Destination, plans []Plan, rep *Report) {
	for _, p := range plans {
		d.dispatchOne(ctx, device, dest, p, rep)
	}
}

func (d *dispatcher) dispatchOne(ctx context.Context, device string, dest Destination, p Plan, rep *Report) {
	log := slog.With("device", device, "kind", p.Kind)
	if p.Tag != "" {
		log = log.With("tag", p.Tag)
	}

	if p.Err != nil {
		log.Error("alerts: template error", "err", p.Err)
		metrics.TemplateErrors.WithLabelValues(string(p.Kind)).Inc()
		rep.Errors = append(rep.Errors, p.Err.Error())
		return
	}
	if p.Suppressed != "" {
		log.Debug("alerts: suppressed", "reason", p.Suppressed)
		metrics.AlertsSuppressed.WithLabelValues(string(p.Kind), p.Suppressed).Inc()
		rep.Skipped++
		return
	}

	applied, err := d.apply(ctx, device, p.Mutations)
	if err != nil {
		log.Error("alerts: state write failed, decision dropped", "err", err)
		metrics.LookupFailures.WithLabelValues("state").Inc()
		rep.Errors = append(rep.Errors, "state write: "+err.Error())
		return
	}
	if !applied {
		log.Debug("alerts: suppressed", "reason", reasonConflict)
		metrics.AlertsSuppressed.WithLabelValues(string(p.Kind), reasonConflict).Inc()
		rep.Skipped++
		return
	}
	if p.Decision == nil {
		return
	}

	dec := *p.Decision
	dec.ID = d.newID()
	now := d.now()

	rec := Record{
		ID:       dec.ID,
		DeviceID: device,
		Trigger:  rep.Trigger,
		Kind:     dec.Kind,
		Title:    dec.Title,
		Text:     dec.Text,
		Color:    dec.Color,
		At:       now,
	}

	err = d.sink.Send(ctx, dest, Notification{Title: dec.Title, Text: dec.Text, Color: dec.Color, At: now})
	if err != nil {
		log.Error("alerts: delivery failed", "title", dec.Title, "err", err)
		metrics.AlertsFailed.WithLabelValues(string(dec.Kind)).Inc()
		rec.Error = err.Error()
		rep.Failed++
		rep.Errors = append(rep.Errors, rec.Error)
		d.recordError(ctx, device, rec.Error, now)
	} else {
		log.Info("alerts: sent", "title", dec.Title, "id", dec.ID)
		metrics.AlertsSent.WithLabelValues(string(dec.Kind)).Inc()
		rec.Delivered = true
		rep.Sent++
		d.incrementStat(ctx, device, dec.StatKey, now)
	}
	rep.Records = append(rep.Records, rec)
}

// apply writes mutations in order. It reports false, without error, when a
// guarded mutation finds the stored value changed.
func (d *dispatcher) apply(ctx context.Context, device string, muts []Mutation) (bool, error) {
	for _, m := range muts {
		if m.Guard && d.swap != nil {
			ok, err := d.swap.CompareAndSet(ctx, device, m.Key, m.Expect, m.Value)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			continue
		}
		if err := d.store.Set(ctx, device, m.Key, m.Value); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (d *dispatcher) recordError(ctx context.Context, device, msg string, now time.Time) {
	if err := d.store.Set(ctx, device, KeyLastError, msg); err != nil {
		slog.Warn("alerts: could not record last error", "device", device, "err", err)
		return
	}
	if err := d.store.Set(ctx, device, KeyLastErrorAt, types.FormatTimestamp(now)); err != nil {
		slog.Warn("alerts: could not record last error time", "device", device, "err", err)
	}
}

// incrementStat adds one to a statistics counter and stamps <stat>_last.
func (d *dispatcher) incrementStat(ctx context.Context, device, stat string, now time.Time) {
	for attempt := 0; attempt < maxStatRetries; attempt++ {
		cur, _, err := d.store.Get(ctx, device, stat)
		if err != nil {
			slog.Warn("alerts: could not update stat", "device", device, "stat", stat, "err", err)
			return
		}
		n, _ := parseNumber(cur)

		if d.swap == nil {
			err = d.store.Set(ctx, device, stat, n+1)
			if err != nil {
				slog.Warn("alerts: could not update stat", "device", device, "stat", stat, "err", err)
				return
			}
			break
		}
		ok, err := d.swap.CompareAndSet(ctx, device, stat, cur, n+1)
		if err != nil {
			slog.Warn("alerts: could not update stat", "device", device, "stat", stat, "err", err)
			return
		}
		if ok {
			break
		}
	}
	if err := d.store.Set(ctx, device, stat+"_last", types.FormatTimestamp(now)); err != nil {
		slog.Warn("alerts: could not update stat time", "device", device, "stat", stat, "err", err)
	}
}
