package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/devicealert/internal/config"
)

// PromTags reads tag values from a Prometheus text endpoint. Each metric
// family becomes one tag whose value is the sum of its samples.
type PromTags struct {
	endpoint string // may contain {device}
	client   *http.Client
}

// NewPromTags returns a PromTags scraping endpoint with cfg's auth and TLS.
func NewPromTags(cfg config.PlatformConfig) (*PromTags, error) {
	if cfg.Tags.Endpoint == "" {
		return nil, fmt.Errorf("platform: prometheus tag endpoint is required")
	}
	return &PromTags{endpoint: cfg.Tags.Endpoint, client: buildHTTPClient(cfg)}, nil
}

// AggregateTags scrapes the endpoint for deviceID.
func (p *PromTags) AggregateTags(ctx context.Context, deviceID string) (map[string]any, error) {
	u := strings.ReplaceAll(p.endpoint, "{device}", url.PathEscape(deviceID))
	mfs, err := fetchMetrics(ctx, p.client, u)
	if err != nil {
		return nil, fmt.Errorf("platform: prometheus tags %q: %w", deviceID, err)
	}
	out := make(map[string]any, len(mfs))
	for name, mf := range mfs {
		if v, ok := sumFamily(mf); ok {
			out[name] = v
		}
	}
	return out, nil
}

// fetchMetrics performs an HTTP GET to endpoint and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, endpoint string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition. A partial parse that
// produced families is still a success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up the counter, gauge and untyped samples of a family.
// Families with only summaries or histograms report false.
func sumFamily(mf *dto.MetricFamily) (float64, bool) {
	var (
		total float64
		found bool
	)
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		default:
			continue
		}
		found = true
	}
	return total, found
}
