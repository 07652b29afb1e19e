package payload

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/khtad/hello-openice/errors"
)

// Lookup errors
var (
	ErrUnknownType        = stderrors.New("unknown type tag")
	ErrUnsupportedContent = stderrors.New("unsupported content type")
)

// Factory returns a pointer to a new zero payload
type Factory func() any

// Validator is implemented by payloads that check themselves after decoding
type Validator interface {
	Validate() error
}

// Keyed is implemented by payloads that identify their instance
type Keyed interface {
	InstanceKey() string
}

// Registry maps type tags to payload factories and content types to codecs.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	codecs    map[string]Codec
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		codecs:    make(map[string]Codec),
	}
}

// NewICERegistry returns a registry with the ICE types and the JSON and CBOR codecs.
func NewICERegistry() (*Registry, error) {
	r := NewRegistry()

	if err := r.Register(NumericType, func() any { return &Numeric{} }); err != nil {
		return nil, err
	}
	if err := r.Register(SampleArrayType, func() any { return &SampleArray{} }); err != nil {
		return nil, err
	}

	cborCodec, err := NewCBORCodec()
	if err != nil {
		return nil, errors.WrapFatal(err, "Registry", "NewICERegistry", "create CBOR codec")
	}
	for _, c := range []Codec{JSONCodec{}, cborCodec} {
		if err := r.RegisterCodec(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a factory for typeTag
func (r *Registry) Register(typeTag string, factory Factory) error {
	if typeTag == "" || factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "type tag and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeTag]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("type %q is already registered", typeTag),
			"Registry", "Register", "duplicate type check")
	}
	r.factories[typeTag] = factory
	return nil
}

// RegisterCodec adds or replaces the codec for its content type
func (r *Registry) RegisterCodec(c Codec) error {
	if c == nil || c.ContentType() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterCodec", "codec validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.ContentType()] = c
	return nil
}

// Known reports whether typeTag has a factory
func (r *Registry) Known(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeTag]
	return ok
}

// TypeTags returns the registered type tags, sorted
func (r *Registry) TypeTags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Decode builds a payload of typeTag from data. An empty content type means JSON.
func (r *Registry) Decode(typeTag, contentType string, data []byte) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeTag]
	codec, cok := r.codecs[normalize(contentType)]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w %q", ErrUnknownType, typeTag), "Registry", "Decode", "factory lookup")
	}
	if !cok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w %q", ErrUnsupportedContent, contentType), "Registry", "Decode", "codec lookup")
	}

	v := factory()
	if err := codec.Unmarshal(data, v); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err), "Registry", "Decode", "unmarshal "+typeTag)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Encode serializes v with the codec for contentType
func (r *Registry) Encode(contentType string, v any) ([]byte, error) {
	r.mu.RLock()
	codec, ok := r.codecs[normalize(contentType)]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w %q", ErrUnsupportedContent, contentType), "Registry", "Encode", "codec lookup")
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Registry", "Encode", "marshal")
	}
	return data, nil
}

func normalize(contentType string) string {
	if contentType == "" {
		return ContentTypeJSON
	}
	return contentType
}
