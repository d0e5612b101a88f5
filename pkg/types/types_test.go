package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestamp_ISOWithZ(t *testing.T) {
	ts, ok := ParseTimestamp("2026-01-01T10:00:00Z")
	if !ok {
		t.Fatal("expected ok")
	}
	want := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("got %v, want %v", ts, want)
	}
}

func TestParseTimestamp_OffsetAndNaive(t *testing.T) {
	off, ok := ParseTimestamp("2026-01-01T12:00:00.123456+02:00")
	if !ok {
		t.Fatal("offset: expected ok")
	}
	if off.Hour() != 10 || off.Location() != time.UTC {
		t.Errorf("offset: got %v, want 10:00 UTC", off)
	}

	naive, ok := ParseTimestamp("2026-01-01T10:00:00")
	if !ok {
		t.Fatal("naive: expected ok")
	}
	if naive.Hour() != 10 {
		t.Errorf("naive: got %v, want 10:00 UTC", naive)
	}
}

func TestParseTimestamp_Epoch(t *testing.T) {
	ts, ok := ParseTimestamp(float64(1767261600))
	if !ok {
		t.Fatal("expected ok")
	}
	if ts.Unix() != 1767261600 {
		t.Errorf("unix: got %d", ts.Unix())
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, v := range []any{nil, "", "yesterday", true, map[string]any{}} {
		if _, ok := ParseTimestamp(v); ok {
			t.Errorf("ParseTimestamp(%#v): expected false", v)
		}
	}
}

func TestConnectionInfo_UnmarshalVariants(t *testing.T) {
	var fromString ConnectionInfo
	if err := json.Unmarshal([]byte(`{"online_at":"2026-01-01T10:00:00Z","determination":"offline"}`), &fromString); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fromString.OnlineAt.IsZero() || fromString.Online() {
		t.Errorf("string variant: got %+v", fromString)
	}

	var fromEpoch ConnectionInfo
	if err := json.Unmarshal([]byte(`{"online_at":1767261600,"determination":"online"}`), &fromEpoch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fromEpoch.OnlineAt.Unix() != 1767261600 || !fromEpoch.Online() {
		t.Errorf("epoch variant: got %+v", fromEpoch)
	}

	var absent ConnectionInfo
	if err := json.Unmarshal([]byte(`{"online_at":null,"determination":"offline"}`), &absent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !absent.OnlineAt.IsZero() {
		t.Errorf("null variant: expected zero OnlineAt, got %v", absent.OnlineAt)
	}
}

func TestDeviceLabel_Fallbacks(t *testing.T) {
	if got := (Device{ID: "d1", Name: "Pump", DisplayName: "Pump 1"}).Label(); got != "Pump" {
		t.Errorf("name: got %q", got)
	}
	if got := (Device{ID: "d1", DisplayName: "Pump 1"}).Label(); got != "Pump 1" {
		t.Errorf("display: got %q", got)
	}
	if got := (Device{ID: "d1"}).Label(); got != "d1" {
		t.Errorf("id: got %q", got)
	}
}

func TestMessageEvent_Validate(t *testing.T) {
	if err := (MessageEvent{DeviceID: "d1"}).Validate(); err == nil {
		t.Error("expected error for missing channel")
	}
	if err := (MessageEvent{ChannelName: "c"}).Validate(); err == nil {
		t.Error("expected error for missing device")
	}
	if err := (MessageEvent{DeviceID: "d1", ChannelName: "c"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
