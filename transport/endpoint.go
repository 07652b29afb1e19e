// Package transport defines the narrow boundary between the dispatch core and
// whatever moves samples: endpoints with status conditions, drained batches
// on loan, and QoS profiles.
package transport

import "context"

// Endpoint is a subscribing access point to one topic/type pair.
type Endpoint interface {
	ID() EndpointID
	Topic() string
	TypeTag() string
	StatusCondition() *StatusCondition
	// StatusChanges returns the enabled status kinds that changed since the last drain.
	StatusChanges() StatusKind
	// Drain collects all pending samples. ErrNoData means nothing was pending.
	Drain() (*Batch, error)
	// ReturnLoan releases a batch obtained from Drain. Call exactly once per batch.
	ReturnLoan(*Batch) error
	Close() error
}

// Transport creates endpoints bound to a topic, type and QoS profile.
type Transport interface {
	CreateEndpoint(ctx context.Context, topic, typeTag string, qos QoSProfile) (Endpoint, error)
	Close(ctx context.Context) error
}

// Reader implements the reader side of Endpoint on top of a SampleCache.
// Transports embed it and feed it through Deliver and Reject.
type Reader struct {
	id      EndpointID
	topic   string
	typeTag string
	qos     QoSProfile
	cond    *StatusCondition
	cache   *SampleCache
}

// NewReader allocates an endpoint identity, a status condition and a cache.
func NewReader(topic, typeTag string, qos QoSProfile) *Reader {
	id := NextEndpointID()
	cond := NewStatusCondition(id)
	return &Reader{
		id:      id,
		topic:   topic,
		typeTag: typeTag,
		qos:     qos,
		cond:    cond,
		cache:   NewSampleCache(id, cond, qos),
	}
}

// ID returns the endpoint identifier
func (r *Reader) ID() EndpointID { return r.id }

// Topic returns the topic name
func (r *Reader) Topic() string { return r.topic }

// TypeTag returns the payload type tag
func (r *Reader) TypeTag() string { return r.typeTag }

// QoS returns the profile the reader was created with
func (r *Reader) QoS() QoSProfile { return r.qos }

// StatusCondition returns the reader's condition
func (r *Reader) StatusCondition() *StatusCondition { return r.cond }

// StatusChanges returns the enabled status kinds that changed
func (r *Reader) StatusChanges() StatusKind { return r.cond.Changes() }

// Drain collects all pending samples on loan
func (r *Reader) Drain() (*Batch, error) { return r.cache.Drain() }

// ReturnLoan releases a drained batch
func (r *Reader) ReturnLoan(b *Batch) error { return r.cache.ReturnLoan(b) }

// Deliver stores an incoming sample
func (r *Reader) Deliver(s Sample) error { return r.cache.Put(s) }

// Reject records an incoming message that could not be decoded
func (r *Reader) Reject() { r.cache.Reject() }

// Stats returns cache counters
func (r *Reader) Stats() CacheStats { return r.cache.Stats() }

// Shutdown stops the reader; waits on its condition observe cause.
func (r *Reader) Shutdown(cause error) { r.cache.Shutdown(cause) }
