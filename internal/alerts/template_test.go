package alerts

import (
	"errors"
	"testing"
)

func TestRender_Substitutes(t *testing.T) {
	got, err := Render(KindThreshold, "{tag}={value} ({limit}) @ {device}", map[string]string{
		"tag": "t", "value": "1", "limit": ">0", "device": "d",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "t=1 (>0) @ d" {
		t.Errorf("got %q", got)
	}
}

func TestRender_EscapedBraces(t *testing.T) {
	got, err := Render(KindChannel, "{{literal}} {channel} }", map[string]string{"channel": "c"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "{literal} c }" {
		t.Errorf("got %q", got)
	}
}

func TestRender_UnknownPlaceholder(t *testing.T) {
	_, err := Render(KindChannel, "{channel} {tag}", nil)
	var te *TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("want TemplateError, got %v", err)
	}
	if te.Placeholder != "tag" || te.Kind != KindChannel || te.Unterminated {
		t.Errorf("error fields: got %+v", te)
	}
}

func TestRender_Unterminated(t *testing.T) {
	_, err := Render(KindThreshold, "value {value", nil)
	var te *TemplateError
	if !errors.As(err, &te) || !te.Unterminated {
		t.Fatalf("want unterminated TemplateError, got %v", err)
	}
}

func TestRender_AllowListPerKind(t *testing.T) {
	if _, err := Render(KindThreshold, "{data}", nil); err == nil {
		t.Error("threshold template accepted {data}")
	}
	if _, err := Render(KindChannel, "{limit}", nil); err == nil {
		t.Error("channel template accepted {limit}")
	}
}

func TestRender_FormatSpecs(t *testing.T) {
	values := map[string]string{"tag": "temp", "value": "150", "limit": ">100", "device": "d"}
	cases := map[string]string{
		"{value:.1f}":   "150.0",
		"{value:.2e}":   "1.50e+02",
		"{value:f}":     "150.000000",
		"{value:.0%}":   "15000%",
		"{value!r}":     "150",
		"{tag:.1f}":     "temp",
		"{value:>10}":   "150",
		"{limit!s:.1f}": ">100",
	}
	for tmpl, want := range cases {
		got, err := Render(KindThreshold, tmpl, values)
		if err != nil {
			t.Errorf("%s: %v", tmpl, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %q, want %q", tmpl, got, want)
		}
	}
}

func TestRender_FormatSpecOnUnknownPlaceholder(t *testing.T) {
	_, err := Render(KindThreshold, "{reading:.1f}", nil)
	var te *TemplateError
	if !errors.As(err, &te) || te.Placeholder != "reading" {
		t.Fatalf("want TemplateError for reading, got %v", err)
	}
}
