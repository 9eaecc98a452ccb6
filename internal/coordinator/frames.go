package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/wybot-bridge/internal/transport"
	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

// handleFrame is the transport callback for every inbound frame. It
// runs on the transport's I/O goroutines; all state mutation happens
// under the coordinator mutex.
func (c *Coordinator) handleFrame(kind transport.FrameKind, targetID, topic string, payload []byte) {
	if targetID == "" {
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	switch kind {
	case transport.KindWill:
		c.markHeard(targetID)
		online := parseWillOnline(payload)
		c.setOnline(targetID, online)
		connected := c.connected
		c.mu.Unlock()

		c.getLogger().Debug("presence frame",
			"target_id", targetID, "online", onlineString(online), "payload", string(payload))

		// A device announcing itself online gets one immediate query.
		if online != nil && *online && connected {
			c.queryTarget(targetID)
		}

	case transport.KindData:
		dps, model, ts := c.mergeDataLocked(targetID, payload)
		history, telemetry := c.history, c.telemetry
		c.mu.Unlock()

		// Sinks and decode logging run without the state mutex so a
		// slow insert never stalls readers or re-entrant lookups.
		for _, dp := range dps {
			c.logUnknownCodes(targetID, model, dp)

			if history != nil {
				summary := summarizeDP(dp, model)
				if err := history.Record(targetID, dp, summary, ts); err != nil {
					c.getLogger().Warn("history record failed", "target_id", targetID, "error", err)
				}
			}
			if telemetry != nil {
				telemetry.WriteDP(targetID, model, dp)
			}
		}
		if len(dps) > 0 {
			c.getLogger().Debug("merged data frame",
				"target_id", targetID, "dp_count", len(dps), "ts", ts)
		}

	case transport.KindQueryEcho, transport.KindCmdEcho, transport.KindOTA:
		c.markHeard(targetID)
		if env, err := decodeEnvelope(payload); err == nil && env.TS > 0 {
			c.noteSeenTS(targetID, env.TS)
		}
		c.mu.Unlock()

		c.getLogger().Debug("echo frame", "kind", kind, "target_id", targetID, "topic", topic)

	default:
		c.mu.Unlock()
		return
	}

	c.requestPush()
}

// mergeDataLocked merges a data frame into the owning group and
// returns the DPs that were merged, plus the model and reported
// timestamp the sinks need. Caller holds the mutex; sink invocation
// is the caller's job after unlocking.
func (c *Coordinator) mergeDataLocked(targetID string, payload []byte) ([]wybot.DP, string, int64) {
	c.markHeard(targetID)

	env, err := decodeEnvelope(payload)
	if err != nil {
		c.getLogger().Debug("dropping malformed data frame", "target_id", targetID, "error", err)
		return nil, "", 0
	}
	if env.TS > 0 {
		c.noteSeenTS(targetID, env.TS)
	}

	dps := env.DataDPs()
	if len(dps) == 0 {
		// Request echo, not new state.
		c.getLogger().Debug("data frame without payloads", "target_id", targetID, "cmd", env.Cmd)
		return nil, "", 0
	}

	group := c.groupByTargetLocked(targetID)
	if group == nil {
		c.getLogger().Debug("data frame for unknown target", "target_id", targetID)
		return nil, "", 0
	}

	if !group.MergeDPs(targetID, dps) {
		return nil, "", 0
	}

	return dps, group.Model(), env.TS
}

// groupByTargetLocked locates the group owning a target id. Caller
// holds the mutex.
func (c *Coordinator) groupByTargetLocked(targetID string) *wybot.Group {
	for _, g := range c.data {
		if g.OwnsTarget(targetID) {
			return g
		}
	}
	return nil
}

// logUnknownCodes surfaces codes missing from the decode tables so
// new firmware variants show up in the logs instead of vanishing.
func (c *Coordinator) logUnknownCodes(targetID, model string, dp wybot.DP) {
	switch dp.ID {
	case wybot.DPCleaningStatus:
		if s := wybot.DecodeCleaningStatus(dp, wybot.StatusTableFor(model)); s.State == wybot.CleaningUnknown {
			c.getLogger().Debug("unknown cleaning status code",
				"target_id", targetID, "code", s.RawCode, "hex", dp.Data)
		}
	case wybot.DPCleaningMode:
		if m := wybot.DecodeCleaningMode(dp); !m.Known {
			c.getLogger().Debug("unknown cleaning mode code",
				"target_id", targetID, "code", m.RawCode, "hex", dp.Data)
		}
	case wybot.DPDock:
		if d := wybot.DecodeDock(dp); d.State == wybot.DockUnknown && dp.HasData() {
			c.getLogger().Debug("unknown dock code",
				"target_id", targetID, "code", d.RawCode, "hex", dp.Data)
		}
	}
}

// decodeEnvelope parses a JSON command envelope.
func decodeEnvelope(payload []byte) (wybot.Envelope, error) {
	var env wybot.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return wybot.Envelope{}, err
	}
	return env, nil
}

// parseWillOnline interprets a presence payload. Returns nil when the
// payload is recognisably neither online nor offline; presence frames
// are not JSON and their wording varies between firmwares.
func parseWillOnline(payload []byte) *bool {
	s := strings.ToLower(strings.TrimSpace(string(payload)))
	if s == "" {
		return nil
	}

	yes, no := true, false
	switch s {
	case "1", "online", "true", "yes", "connected":
		return &yes
	case "0", "offline", "false", "no", "disconnected":
		return &no
	}

	if strings.Contains(s, "online") {
		if strings.Contains(s, "1") || strings.Contains(s, "true") {
			return &yes
		}
		if strings.Contains(s, "0") || strings.Contains(s, "false") {
			return &no
		}
	}
	return nil
}

// summarizeDP renders a short human-readable summary of a merged DP
// for the history log.
func summarizeDP(dp wybot.DP, model string) string {
	switch dp.ID {
	case wybot.DPCleaningStatus:
		s := wybot.DecodeCleaningStatus(dp, wybot.StatusTableFor(model))
		return fmt.Sprintf("status %s", s.State)
	case wybot.DPCleaningMode:
		m := wybot.DecodeCleaningMode(dp)
		return fmt.Sprintf("mode %s", m.Label)
	case wybot.DPDock:
		d := wybot.DecodeDock(dp)
		return fmt.Sprintf("dock %s", d.State)
	case wybot.DPBattery:
		b := wybot.DecodeBattery(dp)
		if b.Level >= 0 {
			return fmt.Sprintf("battery %s %d%%", b.State, b.Level)
		}
		return fmt.Sprintf("battery %s", b.State)
	case wybot.DPCleanTime:
		if m := wybot.CleanTimeMinutesFromHex(dp.Data); m >= 0 {
			return fmt.Sprintf("clean time %dm", m)
		}
	}
	return fmt.Sprintf("dp %d = %s", dp.ID, dp.Data)
}

func onlineString(v *bool) string {
	if v == nil {
		return "unknown"
	}
	if *v {
		return "online"
	}
	return "offline"
}
