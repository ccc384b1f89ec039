package engine

import "sync/atomic"

// Metrics is a point-in-time copy of the engine counters.
type Metrics struct {
	InstancesStarted   int64
	InstancesCompleted int64
	StepsExecuted      int64
	Incidents          int64
	EventsEmitted      int64
}

// counters is a thread-safe collector behind Engine.Metrics.
type counters struct {
	started   atomic.Int64
	completed atomic.Int64
	steps     atomic.Int64
	incidents atomic.Int64
	events    atomic.Int64
}

func (c *counters) snapshot() Metrics {
	return Metrics{
		InstancesStarted:   c.started.Load(),
		InstancesCompleted: c.completed.Load(),
		StepsExecuted:      c.steps.Load(),
		Incidents:          c.incidents.Load(),
		EventsEmitted:      c.events.Load(),
	}
}
