package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/payload"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. HELLOICE_NATS_URLS
const DefaultEnvPrefix = "HELLOICE"

// Loader builds a Config from defaults, JSON file layers and environment
// overrides, in that order.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation of the loaded result
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads a single file over the defaults
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing overrides it: domain 0,
// a local NATS server and the two ICE topics of the pulse oximetry demo.
func Defaults() *Config {
	return &Config{
		Domain: 0,
		NATS: NATSConfig{
			URLs:           []string{"nats://localhost:4222"},
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			ConnectTimeout: 5 * time.Second,
			ClientName:     "hello-openice",
		},
		QoS: QoSConfig{
			Library: DefaultQoSLibrary,
		},
		Subscriber: SubscriberConfig{
			WaitInterval:   time.Second,
			RestartBackoff: time.Second,
			Topics: []TopicConfig{
				{Name: payload.SampleArrayTopic, Type: payload.SampleArrayType, Profile: ProfileWaveformData},
				{Name: payload.NumericTopic, Type: payload.NumericType, Profile: ProfileNumericData},
			},
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path, ".json")
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrParsingFailed, err)
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// durationFields lists the "section.field" paths holding durations.
var durationFields = [][2]string{
	{"nats", "reconnect_wait"},
	{"nats", "connect_timeout"},
	{"subscriber", "wait_interval"},
	{"subscriber", "restart_backoff"},
}

// parseDurations converts duration strings such as "500ms" to nanoseconds so
// they unmarshal into time.Duration.
func parseDurations(raw map[string]any) error {
	for _, f := range durationFields {
		section, ok := raw[f[0]].(map[string]any)
		if !ok {
			continue
		}
		s, ok := section[f[1]].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", f[0], f[1], err)
		}
		section[f[1]] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap overrides only the fields present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps merges nested maps; lists and scalars in override replace base.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if bm, ok := base[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(bm, om)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val, ok := l.lookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
	}
	return val, true, nil
}

// applyEnvOverrides applies PREFIX_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"NATS_USERNAME":     &cfg.NATS.Username,
		"NATS_PASSWORD":     &cfg.NATS.Password,
		"NATS_TOKEN":        &cfg.NATS.Token,
		"QOS_PROFILES_FILE": &cfg.QoS.ProfilesFile,
		"QOS_LIBRARY":       &cfg.QoS.Library,
		"METRICS_ADDR":      &cfg.Metrics.Addr,
		"LOG_LEVEL":         &cfg.Log.Level,
		"LOG_FORMAT":        &cfg.Log.Format,
	}
	for name, dst := range strs {
		val, ok, err := l.env(name)
		if err != nil {
			return err
		}
		if ok {
			*dst = val
		}
	}

	if val, ok, err := l.env("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}

	if val, ok, err := l.env("DOMAIN"); err != nil {
		return err
	} else if ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_DOMAIN")
		}
		cfg.Domain = n
	}

	if val, ok, err := l.env("METRICS_ENABLED"); err != nil {
		return err
	} else if ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_METRICS_ENABLED")
		}
		cfg.Metrics.Enabled = b
	}

	if val, ok, err := l.env("SUBSCRIBER_WAIT_INTERVAL"); err != nil {
		return err
	} else if ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_SUBSCRIBER_WAIT_INTERVAL")
		}
		cfg.Subscriber.WaitInterval = d
	}
	return nil
}
