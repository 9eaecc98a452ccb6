package coordinator

import (
	"time"

	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

// SendCommand writes one or more DP payloads to every target of the
// named group.
//
// A combined request carrying both a DP0 (start/stop) write and other
// writes is split: the others publish immediately and the DP0 write
// follows after the configured delay. Issuing both at once makes some
// firmwares drop the start command.
//
// Publish failures are logged and absorbed; only caller mistakes
// (unknown group, empty payload list) surface as errors.
func (c *Coordinator) SendCommand(groupID string, dps ...wybot.DP) error {
	if len(dps) == 0 {
		return ErrNoPayloads
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	group, ok := c.data[groupID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownGroup
	}
	targets := group.TargetIDs()
	c.mu.Unlock()

	if len(targets) == 0 {
		return ErrNoTargets
	}

	var dp0, others []wybot.DP
	for _, dp := range dps {
		if dp.ID == wybot.DPCleaningStatus {
			dp0 = append(dp0, dp)
		} else {
			others = append(others, dp)
		}
	}

	if len(dp0) > 0 && len(others) > 0 {
		c.getLogger().Debug("splitting DP0 write",
			"group_id", groupID, "delay", c.opts.DP0Delay)
		c.publishNow(targets, others)
		c.scheduleDelayedPublish(targets, dp0, c.opts.DP0Delay)
		return nil
	}

	c.publishNow(targets, dps)
	return nil
}

// publishNow fans a write envelope out to every target, each with a
// freshly issued causal timestamp. A disconnected transport triggers
// a rate-limited reconnect attempt first; the publish proceeds
// regardless and loss here is acceptable.
func (c *Coordinator) publishNow(targets []string, dps []wybot.DP) {
	if !c.transport.IsConnected() {
		c.maybeReconnect()
	}

	for _, tid := range targets {
		env := wybot.NewWriteEnvelope(dps...)
		env.TS = c.nextTS(tid)
		if err := c.transport.PublishWrite(tid, env); err != nil {
			c.getLogger().Warn("write publish failed", "target_id", tid, "error", err)
		}
	}
}

// scheduleDelayedPublish arms a cancellable timer for the deferred
// DP0 write. The timer re-checks for shutdown when it fires; a
// publish after Stop is never attempted.
func (c *Coordinator) scheduleDelayedPublish(targets []string, dps []wybot.DP, delay time.Duration) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.delayTimers, timer)
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		c.publishNow(targets, dps)
		c.requestPush()
	})
	c.delayTimers[timer] = struct{}{}
	c.mu.Unlock()
}
