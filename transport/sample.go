package transport

import "time"

// InstanceState describes the lifecycle of the instance a sample belongs to.
type InstanceState int

// Instance states
const (
	InstanceAlive InstanceState = iota
	InstanceDisposed
	InstanceNoWriters
)

// String returns the state name
func (s InstanceState) String() string {
	switch s {
	case InstanceAlive:
		return "alive"
	case InstanceDisposed:
		return "disposed"
	case InstanceNoWriters:
		return "no_writers"
	default:
		return "unknown"
	}
}

// ParseInstanceState maps a state name back to its value. Unknown names are alive.
func ParseInstanceState(name string) InstanceState {
	switch name {
	case "disposed":
		return InstanceDisposed
	case "no_writers":
		return InstanceNoWriters
	default:
		return InstanceAlive
	}
}

// SampleInfo is the metadata delivered alongside each payload.
type SampleInfo struct {
	// ValidData is false for instance lifecycle notifications that carry no payload.
	ValidData          bool
	InstanceState      InstanceState
	InstanceKey        string
	SourceTimestamp    time.Time
	ReceptionTimestamp time.Time
	PublicationHandle  string
	SequenceNumber     uint64
}

// Sample pairs a decoded payload with its metadata. Payload is nil when
// Info.ValidData is false.
type Sample struct {
	Payload any
	Info    SampleInfo
}

// Batch is a borrowed view over samples owned by an endpoint. It must be
// handed back through the endpoint's ReturnLoan exactly once.
type Batch struct {
	Samples []Sample

	owner EndpointID
	loan  uint64
}

// Len returns the number of samples in the batch
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Samples)
}

// Owner returns the endpoint the batch was borrowed from
func (b *Batch) Owner() EndpointID {
	return b.owner
}

// Loaned reports whether the batch has not been returned yet
func (b *Batch) Loaned() bool {
	return b != nil && b.loan != 0
}
