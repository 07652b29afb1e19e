package transport

import (
	"fmt"

	"github.com/khtad/hello-openice/errors"
)

// Reliability selects delivery guarantees.
type Reliability string

// Reliability kinds
const (
	BestEffort Reliability = "best_effort"
	Reliable   Reliability = "reliable"
)

// Durability selects whether late-joining endpoints see earlier samples.
type Durability string

// Durability kinds
const (
	Volatile       Durability = "volatile"
	TransientLocal Durability = "transient_local"
)

// HistoryKind selects how many samples per instance are retained while pending.
type HistoryKind string

// History kinds
const (
	KeepLast HistoryKind = "keep_last"
	KeepAll  HistoryKind = "keep_all"
)

// QoSProfile is a named set of endpoint policies, resolved from a profile library.
type QoSProfile struct {
	Library     string      `json:"library" yaml:"library"`
	Name        string      `json:"name" yaml:"name"`
	Reliability Reliability `json:"reliability" yaml:"reliability"`
	Durability  Durability  `json:"durability" yaml:"durability"`
	History     HistoryKind `json:"history" yaml:"history"`
	Depth       int         `json:"depth" yaml:"depth"`             // keep_last depth per instance
	MaxSamples  int         `json:"max_samples" yaml:"max_samples"` // pending samples across instances, 0 = unlimited
}

// DefaultQoS mirrors the usual reader defaults: best effort, volatile, keep last 1.
func DefaultQoS() QoSProfile {
	return QoSProfile{
		Library:     "default",
		Name:        "default",
		Reliability: BestEffort,
		Durability:  Volatile,
		History:     KeepLast,
		Depth:       1,
	}
}

// QualifiedName returns "library::name"
func (q QoSProfile) QualifiedName() string {
	return q.Library + "::" + q.Name
}

// HistoryDepth returns the per-instance retention, 0 meaning unbounded.
func (q QoSProfile) HistoryDepth() int {
	if q.History == KeepAll {
		return 0
	}
	if q.Depth <= 0 {
		return 1
	}
	return q.Depth
}

// Validate checks the policy values
func (q QoSProfile) Validate() error {
	switch q.Reliability {
	case BestEffort, Reliable:
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown reliability %q", q.Reliability),
			"QoSProfile", "Validate", "check reliability")
	}
	switch q.Durability {
	case Volatile, TransientLocal:
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown durability %q", q.Durability),
			"QoSProfile", "Validate", "check durability")
	}
	switch q.History {
	case KeepLast, KeepAll:
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown history kind %q", q.History),
			"QoSProfile", "Validate", "check history")
	}
	if q.Depth < 0 || q.MaxSamples < 0 {
		return errors.WrapInvalid(fmt.Errorf("depth and max_samples must not be negative"),
			"QoSProfile", "Validate", "check resource limits")
	}
	if q.History == KeepLast && q.MaxSamples > 0 && q.Depth > q.MaxSamples {
		return errors.WrapInvalid(fmt.Errorf("depth %d exceeds max_samples %d", q.Depth, q.MaxSamples),
			"QoSProfile", "Validate", "check resource limits")
	}
	return nil
}
