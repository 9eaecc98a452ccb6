package coordinator

import "github.com/nerrad567/wybot-bridge/internal/wybot"

// Groups returns a deep copy of the current Group map. Safe to hold
// and read while the coordinator keeps merging.
func (c *Coordinator) Groups() map[string]*wybot.Group {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*wybot.Group, len(c.data))
	for id, g := range c.data {
		out[id] = g.Clone()
	}
	return out
}

// Group returns a deep copy of one group.
func (c *Coordinator) Group(groupID string) (*wybot.Group, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.data[groupID]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// GroupByTarget returns a deep copy of the group owning a target id.
func (c *Coordinator) GroupByTarget(targetID string) (*wybot.Group, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := c.groupByTargetLocked(targetID)
	if g == nil {
		return nil, false
	}
	return g.Clone(), true
}

// ExplicitOnline returns the stored explicit presence flag. The
// second return is false while the flag is unknown, either because
// the target is untracked or because no presence signal ever arrived.
func (c *Coordinator) ExplicitOnline(targetID string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	flag, tracked := c.online[targetID]
	if !tracked || flag == nil {
		return false, false
	}
	return *flag, true
}

// ConsideredOnline derives a best-effort online answer: the explicit
// flag when one exists, otherwise a traffic-freshness fallback
// (heard within the offline TTL). The second return is false when the
// target has never been heard at all.
func (c *Coordinator) ConsideredOnline(targetID string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if flag, tracked := c.online[targetID]; tracked && flag != nil {
		return *flag, true
	}

	heard, ok := c.lastHeard[targetID]
	if !ok {
		return false, false
	}
	return c.now().Sub(heard) < c.opts.OfflineTTL, true
}

// SecondsSinceHeard returns how long ago any traffic arrived for a
// target. The second return is false when nothing was ever heard.
func (c *Coordinator) SecondsSinceHeard(targetID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	heard, ok := c.lastHeard[targetID]
	if !ok {
		return 0, false
	}
	since := c.now().Sub(heard).Seconds()
	if since < 0 {
		since = 0
	}
	return since, true
}

// Connected reports the last known transport connection state.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
