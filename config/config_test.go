package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khtad/hello-openice/errors"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Domain)
	assert.Len(t, cfg.Subscriber.Topics, 2)
	assert.Equal(t, DefaultQoSLibrary, cfg.QoS.Library)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"negative domain", func(c *Config) { c.Domain = -1 }, "domain must be between"},
		{"domain too large", func(c *Config) { c.Domain = MaxDomain + 1 }, "domain must be between"},
		{"highest domain", func(c *Config) { c.Domain = MaxDomain }, ""},
		{"no urls", func(c *Config) { c.NATS.URLs = nil }, "nats.urls is required"},
		{"tls cert without key", func(c *Config) {
			c.NATS.TLS = NATSTLSConfig{Enabled: true, CertFile: "cert.pem"}
		}, "must be set together"},
		{"no qos library", func(c *Config) { c.QoS.Library = "" }, "qos.library is required"},
		{"negative wait", func(c *Config) { c.Subscriber.WaitInterval = -1 }, "wait_interval"},
		{"negative restarts", func(c *Config) { c.Subscriber.MaxRestarts = -1 }, "max_restarts"},
		{"no topics", func(c *Config) { c.Subscriber.Topics = nil }, "at least one topic"},
		{"topic missing type", func(c *Config) { c.Subscriber.Topics[0].Type = "" }, "name, type and profile are required"},
		{"duplicate topic", func(c *Config) {
			c.Subscriber.Topics[1].Name = c.Subscriber.Topics[0].Name
		}, "duplicate topic"},
		{"metrics without addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}, "metrics.addr"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Defaults()
	clone := cfg.Clone()

	clone.NATS.URLs[0] = "nats://elsewhere:4222"
	clone.Subscriber.Topics[0].Name = "Other"

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URLs[0])
	assert.NotEqual(t, "Other", cfg.Subscriber.Topics[0].Name)
	assert.Equal(t, cfg.Subscriber.WaitInterval, clone.Subscriber.WaitInterval)
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "s3cret")
	assert.Contains(t, s, "****")
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}
