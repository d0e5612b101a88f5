package platform

import (
	"context"
	"fmt"

	"github.com/obsidianstack/devicealert/internal/config"
)

// TagSource returns aggregate tag values for a device.
type TagSource interface {
	AggregateTags(ctx context.Context, deviceID string) (map[string]any, error)
}

// NewTagSource selects the tag source configured in cfg.Tags.Source.
func NewTagSource(cfg config.PlatformConfig, api *Client) (TagSource, error) {
	switch cfg.Tags.Source {
	case "api", "":
		if api == nil {
			return nil, fmt.Errorf("platform: api tag source needs a platform client")
		}
		return api, nil
	case "prometheus":
		return NewPromTags(cfg)
	default:
		return nil, fmt.Errorf("platform: unsupported tag source %q", cfg.Tags.Source)
	}
}
