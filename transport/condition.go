package transport

import (
	"sync"
	"sync/atomic"
)

// EndpointID identifies an endpoint within the process. Zero means no owner.
type EndpointID uint32

// ConditionID identifies a condition within the process.
type ConditionID uint64

var (
	endpointSeq  atomic.Uint32
	conditionSeq atomic.Uint64
)

// NextEndpointID allocates a process-unique endpoint identifier.
func NextEndpointID() EndpointID {
	return EndpointID(endpointSeq.Add(1))
}

// Condition is a boolean handle a wait set can block on.
type Condition interface {
	ID() ConditionID
	// Owner is the endpoint whose status drives the condition.
	Owner() EndpointID
	TriggerValue() bool
	// Err is non-nil once the owner can no longer produce status changes.
	Err() error
	// Watch registers wake to receive a non-blocking signal whenever the
	// condition may have become triggered or failed.
	Watch(wake chan<- struct{}) (stop func())
}

// StatusCondition is triggered while any enabled status kind has changed on its owner.
type StatusCondition struct {
	id    ConditionID
	owner EndpointID

	mu        sync.Mutex
	enabled   StatusKind
	changes   StatusKind
	err       error
	watchers  map[uint64]chan<- struct{}
	nextWatch uint64
}

var _ Condition = (*StatusCondition)(nil)

// NewStatusCondition creates a condition owned by the given endpoint with no statuses enabled.
func NewStatusCondition(owner EndpointID) *StatusCondition {
	return &StatusCondition{
		id:       ConditionID(conditionSeq.Add(1)),
		owner:    owner,
		watchers: make(map[uint64]chan<- struct{}),
	}
}

// ID returns the condition identifier
func (c *StatusCondition) ID() ConditionID { return c.id }

// Owner returns the owning endpoint
func (c *StatusCondition) Owner() EndpointID { return c.owner }

// SetEnabledStatuses replaces the enabled mask. Setting the same mask twice is a no-op.
func (c *StatusCondition) SetEnabledStatuses(mask StatusKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = mask
	if c.triggeredLocked() {
		c.notifyLocked()
	}
}

// EnabledStatuses returns the enabled mask
func (c *StatusCondition) EnabledStatuses() StatusKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Raise records a status change and wakes watchers if it is enabled.
func (c *StatusCondition) Raise(kind StatusKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return
	}
	c.changes |= kind
	if c.enabled&kind != 0 {
		c.notifyLocked()
	}
}

// Clear resets the given status kinds.
func (c *StatusCondition) Clear(kind StatusKind) {
	c.mu.Lock()
	c.changes &^= kind
	c.mu.Unlock()
}

// Changes returns the changed status kinds restricted to the enabled mask.
func (c *StatusCondition) Changes() StatusKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes & c.enabled
}

// TriggerValue reports whether an enabled status has changed
func (c *StatusCondition) TriggerValue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggeredLocked()
}

// Fail marks the owner as torn down. The first cause wins.
func (c *StatusCondition) Fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil || cause == nil {
		return
	}
	c.err = cause
	c.changes = StatusMaskNone
	c.notifyLocked()
}

// Err returns the failure cause, if any
func (c *StatusCondition) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Watch registers a wake channel. The channel is signalled immediately when the
// condition is already triggered or failed.
func (c *StatusCondition) Watch(wake chan<- struct{}) func() {
	c.mu.Lock()
	c.nextWatch++
	token := c.nextWatch
	c.watchers[token] = wake
	if c.triggeredLocked() || c.err != nil {
		signal(wake)
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, token)
		c.mu.Unlock()
	}
}

func (c *StatusCondition) triggeredLocked() bool {
	return c.err == nil && c.changes&c.enabled != 0
}

func (c *StatusCondition) notifyLocked() {
	for _, wake := range c.watchers {
		signal(wake)
	}
}

func signal(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}
