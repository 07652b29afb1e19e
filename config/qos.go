package config

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/transport"
)

// Built-in profile names
const (
	DefaultQoSLibrary   = "ice_library"
	ProfileWaveformData = "waveform_data"
	ProfileNumericData  = "numeric_data"
)

// QoSProfiles maps library name to profile name to policies.
type QoSProfiles map[string]map[string]transport.QoSProfile

// qosDocument is the YAML layout of a profile file:
//
//	libraries:
//	  ice_library:
//	    waveform_data:
//	      reliability: best_effort
//	      durability: volatile
//	      history: keep_last
//	      depth: 8
type qosDocument struct {
	Libraries map[string]map[string]transport.QoSProfile `yaml:"libraries"`
}

// DefaultQoSProfiles returns the built-in ice_library. Waveforms favour
// freshness; numerics are reliable and retained for late joiners.
func DefaultQoSProfiles() QoSProfiles {
	return QoSProfiles{
		DefaultQoSLibrary: {
			ProfileWaveformData: {
				Library:     DefaultQoSLibrary,
				Name:        ProfileWaveformData,
				Reliability: transport.BestEffort,
				Durability:  transport.Volatile,
				History:     transport.KeepLast,
				Depth:       8,
				MaxSamples:  256,
			},
			ProfileNumericData: {
				Library:     DefaultQoSLibrary,
				Name:        ProfileNumericData,
				Reliability: transport.Reliable,
				Durability:  transport.TransientLocal,
				History:     transport.KeepLast,
				Depth:       1,
			},
		},
	}
}

// LoadQoSProfiles reads a YAML profile file. An empty path yields the
// built-in profiles.
func LoadQoSProfiles(path string) (QoSProfiles, error) {
	if path == "" {
		return DefaultQoSProfiles(), nil
	}
	data, err := safeReadFile(path, ".yaml", ".yml")
	if err != nil {
		return nil, errors.WrapInvalid(err, "QoSProfiles", "LoadQoSProfiles", "read "+path)
	}
	return ParseQoSProfiles(data)
}

// ParseQoSProfiles decodes and validates a YAML profile document
func ParseQoSProfiles(data []byte) (QoSProfiles, error) {
	var doc qosDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
			"QoSProfiles", "ParseQoSProfiles", "decode YAML")
	}
	if len(doc.Libraries) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no libraries defined", errors.ErrInvalidConfig),
			"QoSProfiles", "ParseQoSProfiles", "check libraries")
	}

	profiles := make(QoSProfiles, len(doc.Libraries))
	for lib, entries := range doc.Libraries {
		profiles[lib] = make(map[string]transport.QoSProfile, len(entries))
		for name, p := range entries {
			p.Library = lib
			p.Name = name
			if p.History == "" {
				p.History = transport.KeepLast
			}
			if err := p.Validate(); err != nil {
				return nil, errors.WrapInvalid(fmt.Errorf("%w: profile %s: %w", errors.ErrInvalidConfig, p.QualifiedName(), err),
					"QoSProfiles", "ParseQoSProfiles", "validate profile")
			}
			profiles[lib][name] = p
		}
	}
	return profiles, nil
}

// Resolve looks up library::profile
func (p QoSProfiles) Resolve(library, profile string) (transport.QoSProfile, error) {
	entries, ok := p[library]
	if !ok {
		return transport.QoSProfile{}, errors.WrapInvalid(
			fmt.Errorf("%w: unknown QoS library %q", errors.ErrMissingConfig, library),
			"QoSProfiles", "Resolve", "find library")
	}
	qos, ok := entries[profile]
	if !ok {
		return transport.QoSProfile{}, errors.WrapInvalid(
			fmt.Errorf("%w: unknown QoS profile %s::%s", errors.ErrMissingConfig, library, profile),
			"QoSProfiles", "Resolve", "find profile")
	}
	return qos, nil
}

// Names returns the sorted qualified names of all profiles
func (p QoSProfiles) Names() []string {
	var names []string
	for _, entries := range p {
		for _, q := range entries {
			names = append(names, q.QualifiedName())
		}
	}
	slices.Sort(names)
	return names
}

// Subscription is a configured topic with its resolved policies.
type Subscription struct {
	Topic   string
	TypeTag string
	QoS     transport.QoSProfile
}

// Subscriptions resolves every configured topic against profiles, in order.
func (c *Config) Subscriptions(profiles QoSProfiles) ([]Subscription, error) {
	subs := make([]Subscription, 0, len(c.Subscriber.Topics))
	for _, tc := range c.Subscriber.Topics {
		qos, err := profiles.Resolve(c.QoS.Library, tc.Profile)
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", tc.Name, err)
		}
		subs = append(subs, Subscription{Topic: tc.Name, TypeTag: tc.Type, QoS: qos})
	}
	return subs, nil
}
