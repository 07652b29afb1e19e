// Package waitset multiplexes the readiness of many conditions behind one
// blocking call. A WaitSet keeps an arena of attached conditions indexed by
// condition identifier and resolves each to the endpoint that owns it, so
// conditions never hold references back to the set.
package waitset

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/transport"
)

// Wait outcomes that are not transport faults
var (
	ErrTimeout        = stderrors.New("wait timed out")
	ErrWaitInProgress = stderrors.New("another goroutine is already waiting")
	ErrNotAttached    = stderrors.New("condition not attached")
)

type entry struct {
	cond  transport.Condition
	owner transport.EndpointID
	stop  func()
}

// WaitSet aggregates conditions. Only one goroutine may Wait at a time.
type WaitSet struct {
	mu      sync.Mutex
	entries []entry
	index   map[transport.ConditionID]int

	wake    chan struct{}
	waiting atomic.Bool
}

// New creates an empty wait set
func New() *WaitSet {
	return &WaitSet{
		index: make(map[transport.ConditionID]int),
		wake:  make(chan struct{}, 1),
	}
}

// Attach registers a condition. Attaching a condition that is already
// attached does nothing.
func (ws *WaitSet) Attach(cond transport.Condition) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if _, ok := ws.index[cond.ID()]; ok {
		return
	}
	ws.index[cond.ID()] = len(ws.entries)
	ws.entries = append(ws.entries, entry{
		cond:  cond,
		owner: cond.Owner(),
		stop:  cond.Watch(ws.wake),
	})
}

// Detach removes a condition from the set
func (ws *WaitSet) Detach(cond transport.Condition) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	i, ok := ws.index[cond.ID()]
	if !ok {
		return ErrNotAttached
	}
	ws.entries[i].stop()

	last := len(ws.entries) - 1
	if i != last {
		ws.entries[i] = ws.entries[last]
		ws.index[ws.entries[i].cond.ID()] = i
	}
	ws.entries[last] = entry{}
	ws.entries = ws.entries[:last]
	delete(ws.index, cond.ID())
	return nil
}

// Len returns the number of attached conditions
func (ws *WaitSet) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.entries)
}

// Owner resolves a condition to the endpoint that owns it.
func (ws *WaitSet) Owner(id transport.ConditionID) (transport.EndpointID, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	i, ok := ws.index[id]
	if !ok {
		return 0, false
	}
	return ws.entries[i].owner, true
}

// Wait blocks until at least one attached condition is triggered, the timeout
// elapses, or ctx is done. It returns exactly the conditions triggered at wake
// time, in no particular order. A timeout <= 0 waits until ctx is done.
//
// A condition reporting Err means its endpoint is gone; Wait then returns a
// transport fault.
func (ws *WaitSet) Wait(ctx context.Context, timeout time.Duration) ([]transport.Condition, error) {
	if !ws.waiting.CompareAndSwap(false, true) {
		return nil, errors.WrapInvalid(ErrWaitInProgress, "WaitSet", "Wait", "enter wait")
	}
	defer ws.waiting.Store(false)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		triggered, err := ws.collect()
		if err != nil {
			return nil, err
		}
		if len(triggered) > 0 {
			return triggered, nil
		}

		select {
		case <-ws.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, ErrTimeout
		}
	}
}

func (ws *WaitSet) collect() ([]transport.Condition, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	var triggered []transport.Condition
	for _, e := range ws.entries {
		if err := e.cond.Err(); err != nil {
			return nil, errors.WrapTransportFault(err, "WaitSet", "Wait", "check conditions")
		}
		if e.cond.TriggerValue() {
			triggered = append(triggered, e.cond)
		}
	}
	return triggered, nil
}
