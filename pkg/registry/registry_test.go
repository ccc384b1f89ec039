package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Ariadne/pkg/process"
)

func waiter(instance, node string) process.NodeRef {
	return process.NodeRef{Process: process.NewProcessRef("g", "p"), InstanceID: instance, NodeID: node}
}

func TestQueueIsIdempotent(t *testing.T) {
	r := New(nil)
	ev := process.Message("approval", "", nil)

	r.Queue(ev, waiter("i1", "wait"), true)
	r.Queue(ev, waiter("i1", "wait"), true)

	assert.Equal(t, 1, r.Len())
}

func TestDequeueTrueThenFalse(t *testing.T) {
	r := New(nil)
	ev := process.Message("approval", "", nil)
	w := waiter("i1", "wait")

	r.Queue(ev, w, true)

	assert.True(t, r.Dequeue(ev, w))
	assert.False(t, r.Dequeue(ev, w))
	assert.False(t, r.Dequeue(process.Signal("never", nil), w))
	assert.Equal(t, 0, r.Len())
}

func TestConsumableEventHasOneWinner(t *testing.T) {
	r := New(nil)
	ev := process.Message("approval", "", nil)
	for i := 0; i < 5; i++ {
		r.Queue(ev, waiter(fmt.Sprintf("i%d", i), "wait"), true)
	}

	matched := r.Match(ev)
	require.Len(t, matched, 1)
	assert.Equal(t, "i0", matched[0].Waiter.InstanceID, "earliest registration wins")
	assert.Equal(t, 4, r.Len())
}

func TestConcurrentMatchesSelectDistinctWinners(t *testing.T) {
	const n = 50
	r := New(nil)
	ev := process.Message("job", "", nil)
	for i := 0; i < n; i++ {
		r.Queue(ev, waiter(fmt.Sprintf("i%d", i), "wait"), true)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners = make(map[string]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			matched := r.Match(ev)
			mu.Lock()
			defer mu.Unlock()
			for _, m := range matched {
				winners[m.Waiter.InstanceID]++
			}
			if len(matched) != 1 {
				t.Errorf("expected exactly one winner per match, got %d", len(matched))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, winners, n)
	for id, count := range winners {
		assert.Equal(t, 1, count, "waiter %s consumed more than once", id)
	}
	assert.Equal(t, 0, r.Len())
}

func TestNonConsumableResumesAllInRegistrationOrder(t *testing.T) {
	r := New(nil)
	ev := process.Signal("broadcast", nil)
	r.Queue(ev, waiter("i2", "b"), false)
	r.Queue(ev, waiter("i1", "a"), false)

	matched := r.Match(ev)
	require.Len(t, matched, 2)
	assert.Equal(t, "i2", matched[0].Waiter.InstanceID)
	assert.Equal(t, "i1", matched[1].Waiter.InstanceID)
	assert.Equal(t, 2, r.Len(), "non-consumable registrations stay until dequeued")
}

func TestMixedRegistrations(t *testing.T) {
	r := New(nil)
	ev := process.Message("m", "", nil)
	r.Queue(ev, waiter("i1", "c1"), true)
	r.Queue(ev, waiter("i2", "n1"), false)
	r.Queue(ev, waiter("i3", "c2"), true)

	matched := r.Match(ev)
	require.Len(t, matched, 2)
	assert.Equal(t, "c1", matched[0].Waiter.NodeID)
	assert.Equal(t, "n1", matched[1].Waiter.NodeID)
	assert.Equal(t, 2, r.Len())
}

func TestCorrelationMatching(t *testing.T) {
	r := New(nil)
	r.Queue(process.Message("paid", "order-1", nil), waiter("i1", "w"), true)
	r.Queue(process.Message("paid", "order-2", nil), waiter("i2", "w"), true)
	r.Queue(process.Message("audit", "", nil), waiter("i3", "w"), false)

	matched := r.Match(process.Message("paid", "order-2", nil))
	require.Len(t, matched, 1)
	assert.Equal(t, "i2", matched[0].Waiter.InstanceID)

	matched = r.Match(process.Message("audit", "anything", nil))
	require.Len(t, matched, 1, "uncorrelated registration matches any correlation")

	assert.Empty(t, r.Match(process.Message("paid", "", nil)))
}

func TestDequeueAllAndClear(t *testing.T) {
	r := New(nil)
	w := waiter("i1", "wait")
	r.Queue(process.Message("business", "", nil), w, true)
	r.Queue(process.Event{Kind: process.EventTimer, Name: "timeout"}, w, true)
	r.Queue(process.Signal("s", nil), waiter("i1", "other"), false)
	r.Queue(process.Signal("s", nil), waiter("i2", "other"), false)

	events := r.Waiting(w)
	require.Len(t, events, 2)
	assert.Equal(t, "business", events[0].Name)

	assert.Equal(t, 2, r.DequeueAll(w))
	assert.Equal(t, 1, r.Clear("i1"))
	assert.Equal(t, 1, r.Len())
}

func TestEmitBuildsResumeActions(t *testing.T) {
	r := New(nil)
	w := waiter("i1", "wait")
	r.Queue(process.Message("approval", "", nil), w, true)

	actions := r.Emit(process.Message("approval", "", map[string]any{"approved": true}))
	require.Len(t, actions, 1)

	resume, ok := actions[0].(process.ResumeAction)
	require.True(t, ok)
	assert.True(t, resume.Reference.Equal(w))
	assert.Equal(t, true, resume.Payload["approved"])
	require.NotNil(t, resume.Event)
	assert.Equal(t, "approval", resume.Event.Name)

	assert.Nil(t, r.Emit(process.Message("approval", "", nil)))
}
