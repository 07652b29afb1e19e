// Package payload defines the ICE data types carried on the Numeric and
// SampleArray topics and the registry that decodes them by type tag and
// content type.
package payload
