// Package config loads the subscriber configuration.
//
// Configuration is assembled in layers: built-in defaults, then any number of
// JSON files, then HELLOICE_* environment variables. Later layers override
// only the fields they set. Durations may be written as strings ("500ms").
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.json")
//	loader.AddLayer("configs/site.json")
//	cfg, err := loader.Load()
//
// QoS policies live in a separate YAML profile library addressed as
// library::profile. Without a profile file the built-in ice_library is used,
// which defines waveform_data and numeric_data.
//
//	profiles, err := config.LoadQoSProfiles(cfg.QoS.ProfilesFile)
//	subs, err := cfg.Subscriptions(profiles)
//
// Supported environment overrides:
//
//	HELLOICE_DOMAIN                    domain id
//	HELLOICE_NATS_URLS                 comma separated server URLs
//	HELLOICE_NATS_USERNAME / _PASSWORD / _TOKEN
//	HELLOICE_QOS_PROFILES_FILE         YAML profile library
//	HELLOICE_QOS_LIBRARY
//	HELLOICE_SUBSCRIBER_WAIT_INTERVAL  e.g. "250ms"
//	HELLOICE_METRICS_ENABLED / _ADDR
//	HELLOICE_LOG_LEVEL / _LOG_FORMAT
package config
