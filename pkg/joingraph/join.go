package joingraph

import (
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph/observability"
)

// joinState is the driver's readiness bookkeeping for one join node.
//
// A join is armed (waiting) by the first branch that reaches it, polled
// until it returns a non-empty delta, then fired. It stays fired, dropping
// late arrivals, until its fork runs again and resets it.
type joinState struct {
	waiting bool
	fired   bool
	polling bool
	polls   int
	since   time.Time
	gen     int
}

// pollable reports whether a poll should be launched now.
func (js *joinState) pollable() bool {
	return js.waiting && !js.fired && !js.polling
}

// reset starts a new epoch. A poll still in flight keeps running but its
// result is discarded.
func (js *joinState) reset() {
	js.gen++
	js.waiting = false
	js.fired = false
	js.polls = 0
	js.since = time.Time{}
}

// arrive records a branch reaching a join.
func (e *execution) arrive(joinID, from string) {
	js := e.joins[joinID]
	if js.fired {
		observability.LogJoinDropped(e.cfg.logger, joinID, from)
		return
	}
	if !js.waiting {
		js.waiting = true
		js.since = time.Now()
	}
	if !js.polling {
		e.enqueue(joinID)
	}
}

// repollJoins schedules a poll of every waiting join after a state change.
func (e *execution) repollJoins() {
	for _, id := range e.cg.order {
		if js, ok := e.joins[id]; ok && js.pollable() {
			e.enqueue(id)
		}
	}
}

// completeJoin handles the result of a join poll.
func (e *execution) completeJoin(n *node, c completion) error {
	js := e.joins[n.id]
	js.polling = false

	if c.gen != js.gen {
		e.cfg.logger.Debug("discarding join poll from a previous epoch", "node_id", n.id)
		if js.pollable() {
			e.enqueue(n.id)
		}
		return nil
	}

	if len(c.delta) == 0 {
		js.polls++
		e.cfg.metrics.RecordJoinPoll(e.base, n.id, false)
		observability.LogJoinWaiting(e.cfg.logger, n.id, js.polls)

		if js.polls > e.cfg.maxJoinPolls {
			return e.readinessError(n.id, "poll budget exhausted")
		}
		// State moved while the poll was running; its answer may be stale.
		if e.store.Version() != c.seen {
			e.enqueue(n.id)
		}
		return nil
	}

	snap, changed, err := e.merge(n, c.delta)
	if err != nil {
		observability.LogNodeError(e.cfg.logger, n.id, err)
		return err
	}
	js.fired = true
	js.waiting = false
	e.executed++
	e.lastNode = n.id

	e.cfg.metrics.RecordJoinPoll(e.base, n.id, true)
	observability.LogJoinFired(e.cfg.logger, n.id, js.polls)
	observability.LogNodeComplete(e.cfg.logger, n.id, float64(c.duration.Milliseconds()), len(c.delta))

	if err := e.route(n.id, snap); err != nil {
		return err
	}
	if changed {
		e.repollJoins()
	}

	return e.saveCheckpoint(n.id)
}

// checkStalled fails the run when a join still waits but nothing is left
// running or scheduled that could make it ready.
func (e *execution) checkStalled() error {
	for _, id := range e.cg.order {
		if js, ok := e.joins[id]; ok && js.waiting && !js.fired {
			return e.readinessError(id, "stalled: no branch left running")
		}
	}
	return nil
}

// nextReadinessDeadline returns the time until the earliest join deadline.
func (e *execution) nextReadinessDeadline() (time.Duration, bool) {
	if e.cfg.readinessTimeout <= 0 {
		return 0, false
	}
	var earliest time.Time
	for _, js := range e.joins {
		if !js.waiting || js.fired {
			continue
		}
		d := js.since.Add(e.cfg.readinessTimeout)
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	return max(time.Until(earliest), 0), true
}

func (e *execution) checkReadinessDeadlines() error {
	for _, id := range e.cg.order {
		js, ok := e.joins[id]
		if !ok || !js.waiting || js.fired {
			continue
		}
		if time.Since(js.since) >= e.cfg.readinessTimeout {
			return e.readinessError(id, "readiness timeout")
		}
	}
	return nil
}

func (e *execution) readinessError(joinID, reason string) error {
	js := e.joins[joinID]
	return &ReadinessTimeoutError{
		JoinID: joinID,
		Polls:  js.polls,
		Waited: time.Since(js.since),
		Reason: reason,
		State:  e.store.Snapshot(),
	}
}
