package waitset

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khtad/hello-openice/errors"
	"github.com/khtad/hello-openice/transport"
)

func newCondition() *transport.StatusCondition {
	c := transport.NewStatusCondition(transport.NextEndpointID())
	c.SetEnabledStatuses(transport.DataAvailableStatus)
	return c
}

func TestWait_ReturnsOnlyTriggered(t *testing.T) {
	ws := New()
	a, b, c := newCondition(), newCondition(), newCondition()
	ws.Attach(a)
	ws.Attach(b)
	ws.Attach(c)

	a.Raise(transport.DataAvailableStatus)
	c.Raise(transport.DataAvailableStatus)

	got, err := ws.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.ElementsMatch(t, []transport.Condition{a, c}, got)
}

func TestWait_NoFalsePositives(t *testing.T) {
	ws := New()
	a := newCondition()
	ws.Attach(a)

	// a status kind outside the enabled mask must not wake the set
	a.Raise(transport.SampleLostStatus)

	_, err := ws.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWait_WakesOnLaterTrigger(t *testing.T) {
	ws := New()
	a := newCondition()
	ws.Attach(a)

	go func() {
		time.Sleep(20 * time.Millisecond)
		a.Raise(transport.DataAvailableStatus)
	}()

	got, err := ws.Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID(), got[0].ID())
}

func TestWait_NotLevelPersistentAfterClear(t *testing.T) {
	ws := New()
	a := newCondition()
	ws.Attach(a)

	a.Raise(transport.DataAvailableStatus)
	_, err := ws.Wait(context.Background(), time.Second)
	require.NoError(t, err)

	a.Clear(transport.DataAvailableStatus)
	_, err = ws.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAttach_Idempotent(t *testing.T) {
	ws := New()
	a := newCondition()
	ws.Attach(a)
	ws.Attach(a)
	assert.Equal(t, 1, ws.Len())

	a.Raise(transport.DataAvailableStatus)
	got, err := ws.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, got, 1, "duplicate attach must not duplicate triggers")
}

func TestDetach(t *testing.T) {
	ws := New()
	a, b := newCondition(), newCondition()
	ws.Attach(a)
	ws.Attach(b)

	require.NoError(t, ws.Detach(a))
	assert.ErrorIs(t, ws.Detach(a), ErrNotAttached)
	assert.Equal(t, 1, ws.Len())

	owner, ok := ws.Owner(b.ID())
	require.True(t, ok)
	assert.Equal(t, b.Owner(), owner)
	_, ok = ws.Owner(a.ID())
	assert.False(t, ok)

	a.Raise(transport.DataAvailableStatus)
	_, err := ws.Wait(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWait_Cancellation(t *testing.T) {
	ws := New()
	ws.Attach(newCondition())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := ws.Wait(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWait_TransportFault(t *testing.T) {
	ws := New()
	a := newCondition()
	ws.Attach(a)

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.Fail(transport.ErrTransportClosed)
	}()

	_, err := ws.Wait(context.Background(), 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsTransportFault(err))
	assert.ErrorIs(t, err, transport.ErrTransportClosed)
}

func TestWait_RejectsConcurrentWaiters(t *testing.T) {
	ws := New()
	ws.Attach(newCondition())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = ws.Wait(ctx, 0)
	}()

	require.Eventually(t, ws.waiting.Load, time.Second, time.Millisecond)

	_, err := ws.Wait(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitInProgress)

	cancel()
	wg.Wait()
}

func TestWait_EveryEventEventuallyReturned(t *testing.T) {
	ws := New()
	conds := []*transport.StatusCondition{newCondition(), newCondition(), newCondition()}
	for _, c := range conds {
		ws.Attach(c)
	}

	seen := make(map[transport.ConditionID]bool)
	go func() {
		for _, c := range conds {
			time.Sleep(5 * time.Millisecond)
			c.Raise(transport.DataAvailableStatus)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(seen) < len(conds) && time.Now().Before(deadline) {
		got, err := ws.Wait(context.Background(), 100*time.Millisecond)
		if err != nil {
			continue
		}
		for _, c := range got {
			seen[c.ID()] = true
			c.(*transport.StatusCondition).Clear(transport.DataAvailableStatus)
		}
	}
	assert.Len(t, seen, len(conds))
}
