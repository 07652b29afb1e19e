package payload

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Content types understood by the built-in codecs
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Codec converts payloads to and from bytes for one content type.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes payloads as JSON
type JSONCodec struct{}

// ContentType returns application/json
func (JSONCodec) ContentType() string { return ContentTypeJSON }

// Marshal encodes v
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes data into v
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CBORCodec encodes payloads as canonical CBOR. Field names follow the json tags.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds the encoder and decoder modes
func NewCBORCodec() (*CBORCodec, error) {
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	enc, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR encoder mode: %w", err)
	}

	// Lenient on input so newer writers can add fields.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	dec, err := decOpts.DecMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR decoder mode: %w", err)
	}

	return &CBORCodec{enc: enc, dec: dec}, nil
}

// ContentType returns application/cbor
func (c *CBORCodec) ContentType() string { return ContentTypeCBOR }

// Marshal encodes v
func (c *CBORCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

// Unmarshal decodes data into v
func (c *CBORCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
