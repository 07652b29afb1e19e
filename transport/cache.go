package transport

import (
	"sync"
	"time"
)

// SampleCache stores samples received for one endpoint until they are drained,
// and tracks the single outstanding loan the endpoint may have.
type SampleCache struct {
	owner EndpointID
	cond  *StatusCondition
	depth int
	max   int

	mu          sync.Mutex
	pending     []Sample
	perInstance map[string]int
	spare       []Sample
	loanSeq     uint64
	outstanding uint64
	lost        uint64
	rejected    uint64
	closed      error
}

// CacheStats are cumulative counters for a cache
type CacheStats struct {
	Pending  int
	Lost     uint64
	Rejected uint64
	Loaned   bool
}

// NewSampleCache creates a cache honouring the history and resource limits of qos.
func NewSampleCache(owner EndpointID, cond *StatusCondition, qos QoSProfile) *SampleCache {
	return &SampleCache{
		owner:       owner,
		cond:        cond,
		depth:       qos.HistoryDepth(),
		max:         qos.MaxSamples,
		perInstance: make(map[string]int),
	}
}

// Put stores a sample and raises DATA_AVAILABLE.
func (c *SampleCache) Put(s Sample) error {
	c.mu.Lock()
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		return err
	}

	if s.Info.ReceptionTimestamp.IsZero() {
		s.Info.ReceptionTimestamp = time.Now()
	}

	key := s.Info.InstanceKey
	if c.depth > 0 && c.perInstance[key] >= c.depth {
		c.removeOldestLocked(key)
	}

	lost := false
	if c.max > 0 && len(c.pending) >= c.max {
		c.removeAtLocked(0)
		c.lost++
		lost = true
	}

	c.pending = append(c.pending, s)
	c.perInstance[key]++
	c.mu.Unlock()

	if lost {
		c.cond.Raise(SampleLostStatus)
	}
	c.cond.Raise(DataAvailableStatus)
	return nil
}

// Reject counts an arriving message that could not be turned into a sample.
func (c *SampleCache) Reject() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
	c.cond.Raise(SampleRejectedStatus)
}

// Drain moves every pending sample into a loaned batch and clears the read
// statuses. It returns ErrNoData when nothing is pending.
func (c *SampleCache) Drain() (*Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return nil, c.closed
	}
	if c.outstanding != 0 {
		return nil, ErrLoanOutstanding
	}

	c.cond.Clear(DataAvailableStatus | SampleLostStatus | SampleRejectedStatus)

	if len(c.pending) == 0 {
		return nil, ErrNoData
	}

	samples := append(c.spare[:0], c.pending...)
	c.spare = nil
	clear(c.pending)
	c.pending = c.pending[:0]
	clear(c.perInstance)

	c.loanSeq++
	c.outstanding = c.loanSeq

	return &Batch{Samples: samples, owner: c.owner, loan: c.loanSeq}, nil
}

// ReturnLoan hands the batch storage back to the cache.
func (c *SampleCache) ReturnLoan(b *Batch) error {
	if b == nil {
		return ErrLoanMismatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b.owner != c.owner || b.loan == 0 || b.loan != c.outstanding {
		return ErrLoanMismatch
	}

	clear(b.Samples)
	c.spare = b.Samples[:0]
	b.Samples = nil
	b.loan = 0
	c.outstanding = 0
	return nil
}

// Shutdown discards pending samples and fails the status condition with cause.
// An outstanding loan can still be returned afterwards.
func (c *SampleCache) Shutdown(cause error) {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = cause
		c.pending = nil
		c.spare = nil
		clear(c.perInstance)
	}
	c.mu.Unlock()

	c.cond.Fail(cause)
}

// Stats returns the current counters
func (c *SampleCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Pending:  len(c.pending),
		Lost:     c.lost,
		Rejected: c.rejected,
		Loaned:   c.outstanding != 0,
	}
}

func (c *SampleCache) removeOldestLocked(key string) {
	for i := range c.pending {
		if c.pending[i].Info.InstanceKey == key {
			c.removeAtLocked(i)
			return
		}
	}
}

func (c *SampleCache) removeAtLocked(i int) {
	key := c.pending[i].Info.InstanceKey
	copy(c.pending[i:], c.pending[i+1:])
	c.pending[len(c.pending)-1] = Sample{}
	c.pending = c.pending[:len(c.pending)-1]
	if n := c.perInstance[key] - 1; n > 0 {
		c.perInstance[key] = n
	} else {
		delete(c.perInstance, key)
	}
}
