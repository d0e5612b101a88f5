package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the configuration.
const (
	DefaultGRPCPort         = 50051
	DefaultHTTPPort         = 8080
	DefaultScheduleInterval = time.Minute
	DefaultLookupTimeout    = 10 * time.Second
	DefaultTagChannel       = "tag_values"
	DefaultSubjectPrefix    = "devices"
	DefaultKafkaGroupID     = "devicealert"

	DefaultWebhookType    = "slack"
	DefaultWebhookTimeout = 30 * time.Second
	DefaultUsername       = "Doover Alerts"

	DefaultChannelTemplate   = "New message on {channel} from {device}: {data}"
	DefaultOfflineThreshold  = 30
	DefaultOfflineReminder   = 60
	DefaultThresholdMessage  = "{tag} is {value} (threshold: {limit}) on {device}"
	DefaultThresholdCooldown = 15

	NeverSeenAlert  = "alert"
	NeverSeenIgnore = "ignore"
)

// Config is the top-level configuration parsed from config.yaml.
type Config struct {
	Processor ProcessorConfig `yaml:"processor"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// ProcessorConfig holds the daemon settings: listeners, triggers and the
// external collaborators the alert engine talks to.
type ProcessorConfig struct {
	// GRPCPort is the port the EventService listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort serves the REST API, /metrics and the websocket stream (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth protects the gRPC and REST surfaces.
	Auth AuthConfig `yaml:"auth"`

	// Schedule controls periodic offline and threshold checks.
	Schedule ScheduleConfig `yaml:"schedule"`

	// LookupTimeout bounds each device, connection and tag lookup.
	LookupTimeout time.Duration `yaml:"lookup_timeout"`

	// Platform locates the device API that answers lookups.
	Platform PlatformConfig `yaml:"platform"`

	// State selects where per-device alert state is persisted.
	State StateConfig `yaml:"state"`

	// Bus configures optional channel-message subscriptions.
	Bus BusConfig `yaml:"bus"`
}

// AuthConfig controls client authentication on the gRPC and REST surfaces.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header is the metadata key / HTTP header carrying the key (default "x-api-key").
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// ScheduleConfig lists the devices checked on every tick.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
	Devices  []string      `yaml:"devices"`
}

// PlatformConfig describes the device API.
type PlatformConfig struct {
	// BaseURL is the root of the device API, e.g. https://api.example.com/v1.
	BaseURL string `yaml:"base_url"`

	Auth ClientAuthConfig `yaml:"auth"`
	TLS  TLSConfig        `yaml:"tls"`

	// TagChannel is the channel whose aggregate holds the tag values.
	TagChannel string `yaml:"tag_channel"`

	// Tags selects the tag-aggregate source.
	Tags TagSourceConfig `yaml:"tags"`
}

// ClientAuthConfig specifies how alertd authenticates to the device API.
type ClientAuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	Header      string `yaml:"header"`
	KeyEnv      string `yaml:"key_env"`
	TokenEnv    string `yaml:"token_env"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a ClientAuthConfig) Key() string { return lookupEnv(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a ClientAuthConfig) Token() string { return lookupEnv(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a ClientAuthConfig) Password() string { return lookupEnv(a.PasswordEnv) }

// TLSConfig holds TLS dial options for the device API.
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// TagSourceConfig selects where aggregate tag values come from.
type TagSourceConfig struct {
	// Source is one of: api | prometheus (default api).
	Source string `yaml:"source"`

	// Endpoint is the Prometheus text endpoint when Source is prometheus.
	// "{device}" is replaced with the device ID.
	Endpoint string `yaml:"endpoint"`
}

// StateConfig selects the state backend.
type StateConfig struct {
	// Backend is one of: memory | postgres | mysql | sqlserver (default memory).
	Backend string `yaml:"backend"`

	// DSNEnv names the environment variable holding the database DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the database DSN resolved from the environment.
func (s StateConfig) DSN() string { return lookupEnv(s.DSNEnv) }

// BusConfig holds the optional message-bus subscriptions.
type BusConfig struct {
	NATS  NATSConfig  `yaml:"nats"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// NATSConfig subscribes to <subject_prefix>.<device>.<channel>.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Enabled reports whether a NATS subscription is configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// KafkaConfig consumes JSON message events from Topic.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Enabled reports whether a Kafka consumer is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 && k.Topic != "" }

// AlertsConfig is the user-facing rule configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`

	// IncludeDeviceName resolves device names for messages; when false the
	// device is reported as "Unknown Device".
	IncludeDeviceName bool `yaml:"include_device_name"`

	Channel    ChannelConfig    `yaml:"channel"`
	Offline    OfflineConfig    `yaml:"offline"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
}

// WebhookConfig defines the single notification destination.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable holding the webhook URL.
	// It takes precedence over URL.
	URLEnv string `yaml:"url_env"`
	URL    string `yaml:"url"`

	// Username is the bot display name (slack only).
	Username string `yaml:"username"`

	// Channel overrides the webhook's default channel (slack only).
	Channel string `yaml:"channel"`

	// Timeout bounds one delivery attempt.
	Timeout time.Duration `yaml:"timeout"`
}

// ResolvedURL returns the webhook URL, preferring the environment.
func (w WebhookConfig) ResolvedURL() string {
	if v := lookupEnv(w.URLEnv); v != "" {
		return v
	}
	return w.URL
}

// ChannelConfig controls alerts for channel messages.
type ChannelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Template string `yaml:"template"`
}

// OfflineConfig controls sustained-offline alerts.
type OfflineConfig struct {
	Enabled bool `yaml:"enabled"`

	// ThresholdMinutes is how long a device must stay offline before the
	// first alert. Range [1, 1440].
	ThresholdMinutes int `yaml:"threshold_minutes"`

	// ReminderIntervalMinutes is the repeat cadence while the device stays
	// offline; 0 disables reminders. Range [0, 1440].
	ReminderIntervalMinutes int `yaml:"reminder_interval_minutes"`

	// NeverSeen decides what happens when the platform has no last-online
	// timestamp for an offline device: alert | ignore.
	NeverSeen string `yaml:"never_seen"`
}

// ThresholdsConfig controls tag-value threshold alerts.
type ThresholdsConfig struct {
	Enabled bool            `yaml:"enabled"`
	Rules   []ThresholdRule `yaml:"rules"`
}

// ThresholdRule is one tag limit pair. Either limit may be omitted.
type ThresholdRule struct {
	TagName    string   `yaml:"tag_name"`
	UpperLimit *float64 `yaml:"upper_limit"`
	LowerLimit *float64 `yaml:"lower_limit"`

	// AlertMessage supports {tag}, {value}, {limit} and {device}.
	AlertMessage string `yaml:"alert_message"`

	// CooldownMinutes defaults to 15 when omitted; 0 disables the cooldown.
	CooldownMinutes *int `yaml:"cooldown_minutes"`
}

// Cooldown returns the effective cooldown in minutes.
func (r ThresholdRule) Cooldown() int {
	if r.CooldownMinutes == nil {
		return DefaultThresholdCooldown
	}
	return *r.CooldownMinutes
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	normalize(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file values are present.
func Default() *Config {
	cfg := defaults()
	normalize(cfg)
	return cfg
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Processor: ProcessorConfig{
			GRPCPort:      DefaultGRPCPort,
			HTTPPort:      DefaultHTTPPort,
			LookupTimeout: DefaultLookupTimeout,
			Schedule: ScheduleConfig{
				Interval: DefaultScheduleInterval,
			},
			Platform: PlatformConfig{
				TagChannel: DefaultTagChannel,
				Tags:       TagSourceConfig{Source: "api"},
			},
			State: StateConfig{Backend: "memory"},
			Bus: BusConfig{
				NATS:  NATSConfig{SubjectPrefix: DefaultSubjectPrefix},
				Kafka: KafkaConfig{GroupID: DefaultKafkaGroupID},
			},
		},
		Alerts: AlertsConfig{
			Webhook: WebhookConfig{
				Type:     DefaultWebhookType,
				Username: DefaultUsername,
				Timeout:  DefaultWebhookTimeout,
			},
			IncludeDeviceName: true,
			Channel: ChannelConfig{
				Enabled:  true,
				Template: DefaultChannelTemplate,
			},
			Offline: OfflineConfig{
				ThresholdMinutes:        DefaultOfflineThreshold,
				ReminderIntervalMinutes: DefaultOfflineReminder,
				NeverSeen:               NeverSeenAlert,
			},
		},
	}
}

// normalize fills per-element defaults that yaml cannot pre-populate.
func normalize(cfg *Config) {
	for i := range cfg.Alerts.Thresholds.Rules {
		r := &cfg.Alerts.Thresholds.Rules[i]
		if r.AlertMessage == "" {
			r.AlertMessage = DefaultThresholdMessage
		}
	}
	if cfg.Alerts.Channel.Template == "" {
		cfg.Alerts.Channel.Template = DefaultChannelTemplate
	}
	if cfg.Alerts.Webhook.Username == "" {
		cfg.Alerts.Webhook.Username = DefaultUsername
	}
}

// validate checks ranges and enums on the parsed configuration.
func validate(cfg *Config) error {
	p := cfg.Processor
	if p.GRPCPort < 0 || p.GRPCPort > 65535 {
		return fmt.Errorf("processor.grpc_port %d is out of range [0, 65535]", p.GRPCPort)
	}
	if p.HTTPPort < 0 || p.HTTPPort > 65535 {
		return fmt.Errorf("processor.http_port %d is out of range [0, 65535]", p.HTTPPort)
	}
	switch p.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("processor.auth.mode %q unknown: want apikey|none", p.Auth.Mode)
	}
	if p.Schedule.Interval <= 0 {
		return fmt.Errorf("processor.schedule.interval must be positive")
	}
	if p.LookupTimeout <= 0 {
		return fmt.Errorf("processor.lookup_timeout must be positive")
	}
	switch p.Platform.Auth.Mode {
	case "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("processor.platform.auth.mode %q unknown: want apikey|bearer|basic|none", p.Platform.Auth.Mode)
	}
	switch p.Platform.Tags.Source {
	case "api":
	case "prometheus":
		if p.Platform.Tags.Endpoint == "" {
			return fmt.Errorf("processor.platform.tags.endpoint is required for the prometheus source")
		}
	default:
		return fmt.Errorf("processor.platform.tags.source %q unknown: want api|prometheus", p.Platform.Tags.Source)
	}
	switch p.State.Backend {
	case "memory":
	case "postgres", "mysql", "sqlserver":
		if p.State.DSNEnv == "" {
			return fmt.Errorf("processor.state.dsn_env is required for backend %q", p.State.Backend)
		}
	default:
		return fmt.Errorf("processor.state.backend %q unknown: want memory|postgres|mysql|sqlserver", p.State.Backend)
	}
	if p.Bus.Kafka.Topic != "" && len(p.Bus.Kafka.Brokers) == 0 {
		return fmt.Errorf("processor.bus.kafka.brokers is required when a topic is set")
	}

	a := cfg.Alerts
	switch a.Webhook.Type {
	case "slack", "teams", "http":
	default:
		return fmt.Errorf("alerts.webhook.type %q unknown: want slack|teams|http", a.Webhook.Type)
	}
	if a.Webhook.Timeout < 5*time.Second || a.Webhook.Timeout > 120*time.Second {
		return fmt.Errorf("alerts.webhook.timeout %s is out of range [5s, 120s]", a.Webhook.Timeout)
	}
	if a.Offline.ThresholdMinutes < 1 || a.Offline.ThresholdMinutes > 1440 {
		return fmt.Errorf("alerts.offline.threshold_minutes %d is out of range [1, 1440]", a.Offline.ThresholdMinutes)
	}
	if a.Offline.ReminderIntervalMinutes < 0 || a.Offline.ReminderIntervalMinutes > 1440 {
		return fmt.Errorf("alerts.offline.reminder_interval_minutes %d is out of range [0, 1440]", a.Offline.ReminderIntervalMinutes)
	}
	switch a.Offline.NeverSeen {
	case NeverSeenAlert, NeverSeenIgnore:
	default:
		return fmt.Errorf("alerts.offline.never_seen %q unknown: want alert|ignore", a.Offline.NeverSeen)
	}
	for i, r := range a.Thresholds.Rules {
		if r.Cooldown() < 0 {
			return fmt.Errorf("alerts.thresholds.rules[%d] %q: cooldown_minutes must not be negative", i, r.TagName)
		}
	}
	return nil
}

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
