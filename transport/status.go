package transport

import "strings"

// StatusKind is a bitset of communication status kinds an endpoint reports.
type StatusKind uint32

const (
	// DataAvailableStatus is raised when new samples arrive and cleared by Drain.
	DataAvailableStatus StatusKind = 1 << iota
	// SampleLostStatus is raised when a pending sample was dropped to honour MaxSamples.
	SampleLostStatus
	// SampleRejectedStatus is raised when an arriving message could not be decoded.
	SampleRejectedStatus
)

const (
	// StatusMaskNone enables no status kinds
	StatusMaskNone StatusKind = 0
	// StatusMaskAll enables every status kind
	StatusMaskAll = DataAvailableStatus | SampleLostStatus | SampleRejectedStatus
)

// Has reports whether every bit of kind is set in s.
func (s StatusKind) Has(kind StatusKind) bool {
	return kind != 0 && s&kind == kind
}

// String returns a pipe-separated list of the set bits
func (s StatusKind) String() string {
	if s == StatusMaskNone {
		return "none"
	}
	var parts []string
	if s&DataAvailableStatus != 0 {
		parts = append(parts, "data_available")
	}
	if s&SampleLostStatus != 0 {
		parts = append(parts, "sample_lost")
	}
	if s&SampleRejectedStatus != 0 {
		parts = append(parts, "sample_rejected")
	}
	if rest := s &^ StatusMaskAll; rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}
