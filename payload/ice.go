package payload

import (
	"fmt"
	"strconv"
	"time"

	"github.com/khtad/hello-openice/errors"
)

// Topic names and type tags of the ICE data types
const (
	NumericTopic     = "Numeric"
	SampleArrayTopic = "SampleArray"

	NumericType     = "ice::Numeric"
	SampleArrayType = "ice::SampleArray"
)

// Pulse oximetry metric identifiers
const (
	MetricSpO2      = "MDC_PULS_OXIM_SAT_O2"
	MetricPulseRate = "MDC_PULS_OXIM_PULS_RATE"
	MetricPleth     = "MDC_PULS_OXIM_PLETH"
)

// MetricLabel returns a short human label for known metric ids.
func MetricLabel(metricID string) string {
	switch metricID {
	case MetricSpO2:
		return "SpO2"
	case MetricPulseRate:
		return "Pulse Rate"
	case MetricPleth:
		return "Pleth"
	default:
		return metricID
	}
}

// Numeric is a single observed value from a device
type Numeric struct {
	UniqueDeviceIdentifier string    `json:"unique_device_identifier"`
	MetricID               string    `json:"metric_id"`
	VendorMetricID         string    `json:"vendor_metric_id,omitempty"`
	InstanceID             int32     `json:"instance_id"`
	UnitID                 string    `json:"unit_id,omitempty"`
	Value                  float32   `json:"value"`
	DeviceTime             time.Time `json:"device_time"`
	PresentationTime       time.Time `json:"presentation_time"`
}

// InstanceKey identifies the instance: device, metric and instance id.
func (n *Numeric) InstanceKey() string {
	return instanceKey(n.UniqueDeviceIdentifier, n.MetricID, n.InstanceID)
}

// Validate checks the keyed fields
func (n *Numeric) Validate() error {
	if n.UniqueDeviceIdentifier == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Numeric", "Validate", "unique_device_identifier is required")
	}
	if n.MetricID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Numeric", "Validate", "metric_id is required")
	}
	return nil
}

func (n *Numeric) String() string {
	return fmt.Sprintf("Numeric{udi=%s metric=%s instance=%d value=%g unit=%s time=%s}",
		n.UniqueDeviceIdentifier, n.MetricID, n.InstanceID, n.Value, n.UnitID,
		n.PresentationTime.Format(time.RFC3339Nano))
}

// SampleArray is a block of waveform samples from a device
type SampleArray struct {
	UniqueDeviceIdentifier string    `json:"unique_device_identifier"`
	MetricID               string    `json:"metric_id"`
	VendorMetricID         string    `json:"vendor_metric_id,omitempty"`
	InstanceID             int32     `json:"instance_id"`
	UnitID                 string    `json:"unit_id,omitempty"`
	FrequencyHz            int32     `json:"frequency"`
	Values                 []float32 `json:"values"`
	DeviceTime             time.Time `json:"device_time"`
	PresentationTime       time.Time `json:"presentation_time"`
}

// InstanceKey identifies the instance: device, metric and instance id.
func (s *SampleArray) InstanceKey() string {
	return instanceKey(s.UniqueDeviceIdentifier, s.MetricID, s.InstanceID)
}

// Validate checks the keyed fields and the sampling frequency
func (s *SampleArray) Validate() error {
	if s.UniqueDeviceIdentifier == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "SampleArray", "Validate", "unique_device_identifier is required")
	}
	if s.MetricID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "SampleArray", "Validate", "metric_id is required")
	}
	if s.FrequencyHz < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "SampleArray", "Validate", "frequency must not be negative")
	}
	return nil
}

func (s *SampleArray) String() string {
	return fmt.Sprintf("SampleArray{udi=%s metric=%s instance=%d frequency=%dHz samples=%d time=%s}",
		s.UniqueDeviceIdentifier, s.MetricID, s.InstanceID, s.FrequencyHz, len(s.Values),
		s.PresentationTime.Format(time.RFC3339Nano))
}

func instanceKey(udi, metricID string, instance int32) string {
	return udi + "/" + metricID + "/" + strconv.FormatInt(int64(instance), 10)
}
