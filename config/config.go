package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/khtad/hello-openice/errors"
)

// MaxDomain is the highest domain id accepted
const MaxDomain = 232

// Config is the complete subscriber configuration
type Config struct {
	Domain     int              `json:"domain"`
	NATS       NATSConfig       `json:"nats"`
	QoS        QoSConfig        `json:"qos"`
	Subscriber SubscriberConfig `json:"subscriber"`
	Metrics    MetricsConfig    `json:"metrics"`
	Log        LogConfig        `json:"log"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs           []string      `json:"urls,omitempty"`
	MaxReconnects  int           `json:"max_reconnects"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	Token          string        `json:"token,omitempty"`
	ClientName     string        `json:"client_name,omitempty"`
	TLS            NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// QoSConfig selects where QoS profiles come from
type QoSConfig struct {
	ProfilesFile string `json:"profiles_file,omitempty"` // YAML profile library, built-in profiles when empty
	Library      string `json:"library"`
}

// SubscriberConfig configures the dispatch loop and its endpoints
type SubscriberConfig struct {
	WaitInterval         time.Duration `json:"wait_interval"`
	ReportInstanceEvents bool          `json:"report_instance_events"`
	RestartBackoff       time.Duration `json:"restart_backoff"`
	MaxRestarts          int           `json:"max_restarts"` // 0 = unlimited
	Topics               []TopicConfig `json:"topics"`
}

// TopicConfig is one subscribed topic
type TopicConfig struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Profile string `json:"profile"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Domain < 0 || c.Domain > MaxDomain {
		return invalid("domain must be between 0 and %d, got %d", MaxDomain, c.Domain)
	}
	if len(c.NATS.URLs) == 0 {
		return invalid("nats.urls is required")
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalid("nats.tls.cert_file and nats.tls.key_file must be set together")
	}
	if c.QoS.Library == "" {
		return invalid("qos.library is required")
	}
	if c.Subscriber.WaitInterval < 0 {
		return invalid("subscriber.wait_interval must not be negative")
	}
	if c.Subscriber.MaxRestarts < 0 {
		return invalid("subscriber.max_restarts must not be negative")
	}
	if len(c.Subscriber.Topics) == 0 {
		return invalid("subscriber.topics must name at least one topic")
	}

	seen := make(map[string]bool, len(c.Subscriber.Topics))
	for i, tc := range c.Subscriber.Topics {
		if tc.Name == "" || tc.Type == "" || tc.Profile == "" {
			return invalid("subscriber.topics[%d]: name, type and profile are required", i)
		}
		if seen[tc.Name] {
			return invalid("subscriber.topics[%d]: duplicate topic %q", i, tc.Name)
		}
		seen[tc.Name] = true
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr is required when metrics are enabled")
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		return invalid("log.level must be one of %v, got %q", logLevels, c.Log.Level)
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		return invalid("log.format must be one of %v, got %q", logFormats, c.Log.Format)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "validate configuration")
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns the configuration as indented JSON with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{&masked.NATS.Password, &masked.NATS.Token} {
		if *s != "" {
			*s = "****"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
