package wybot

import "strings"

// Version carries the firmware version reported for a device.
type Version struct {
	Firmware string `json:"firmware"`
}

// Device is the primary robot unit of a group.
//
// DPs holds the last-known raw datapoints keyed by string DP id. It
// is absent from inventory responses and populated by telemetry
// merges.
type Device struct {
	DeviceID   string   `json:"deviceId"`
	DeviceName string   `json:"deviceName"`
	DeviceType string   `json:"deviceType"`
	BLEName    string   `json:"bleName"`
	Version    *Version `json:"version,omitempty"`
	PoolID     string   `json:"poolId,omitempty"`
	AutoUpdate string   `json:"autoUpdate,omitempty"`

	DPs map[string]DP `json:"dps,omitempty"`
}

// Docker is the optional companion dock unit of a group. It reports
// its own datapoints under its own target id.
type Docker struct {
	DockerID     string `json:"dockerId"`
	DockerType   string `json:"dockerType"`
	BLEName      string `json:"bleName"`
	DeviceStatus string `json:"deviceStatus,omitempty"`
	DockerStatus string `json:"dockerStatus,omitempty"`
	Schedule     string `json:"schedule,omitempty"`

	DPs map[string]DP `json:"dps,omitempty"`
}

// Group pairs a device with its optional docker, as reported by the
// inventory API. Groups are replaced wholesale on each snapshot;
// their DP maps are mutated in place between snapshots.
type Group struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	AutoUpdate string  `json:"autoUpdate,omitempty"`
	Device     *Device `json:"device"`
	Docker     *Docker `json:"docker,omitempty"`
}

// Model returns the device model tag, or "" for docker-only groups.
func (g *Group) Model() string {
	if g == nil || g.Device == nil {
		return ""
	}
	return g.Device.DeviceType
}

// FindDP returns the stored raw DP with the given id, scanning the
// device's DPs first and then the docker's.
func (g *Group) FindDP(id int) (DP, bool) {
	if g == nil {
		return DP{}, false
	}
	key := DP{ID: id}.Key()
	if g.Device != nil {
		if dp, ok := g.Device.DPs[key]; ok {
			return dp, true
		}
	}
	if g.Docker != nil {
		if dp, ok := g.Docker.DPs[key]; ok {
			return dp, true
		}
	}
	return DP{}, false
}

// CleaningStatus decodes the group's DP0 with the table for its
// model. The second return is false when no DP0 has been reported.
func (g *Group) CleaningStatus() (CleaningStatus, bool) {
	dp, ok := g.FindDP(DPCleaningStatus)
	if !ok {
		return CleaningStatus{State: CleaningUnknown}, false
	}
	return DecodeCleaningStatus(dp, StatusTableFor(g.Model())), true
}

// CleaningMode decodes the group's DP1.
func (g *Group) CleaningMode() (CleaningMode, bool) {
	dp, ok := g.FindDP(DPCleaningMode)
	if !ok {
		return CleaningMode{}, false
	}
	return DecodeCleaningMode(dp), true
}

// Battery decodes the group's DP50.
func (g *Group) Battery() (Battery, bool) {
	dp, ok := g.FindDP(DPBattery)
	if !ok {
		return Battery{State: BatteryUnknown, Level: -1}, false
	}
	return DecodeBattery(dp), true
}

// Dock decodes the group's DP11.
func (g *Group) Dock() (Dock, bool) {
	dp, ok := g.FindDP(DPDock)
	if !ok {
		return Dock{State: DockUnknown}, false
	}
	return DecodeDock(dp), true
}

// TargetIDs returns the group's target identifiers in subscription
// order: device id first, docker id second, deduplicated. A group may
// yield zero, one, or two targets.
func (g *Group) TargetIDs() []string {
	if g == nil {
		return nil
	}

	var targets []string
	if g.Device != nil && g.Device.DeviceID != "" {
		targets = append(targets, g.Device.DeviceID)
	}
	if g.Docker != nil && g.Docker.DockerID != "" {
		targets = append(targets, g.Docker.DockerID)
	}

	seen := make(map[string]struct{}, len(targets))
	out := targets[:0]
	for _, t := range targets {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// PrimaryTargetID returns the target id used for online tracking:
// device id if present, else docker id, else "".
func (g *Group) PrimaryTargetID() string {
	if ids := g.TargetIDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// OwnsTarget reports whether the given target id belongs to this
// group's device or docker.
func (g *Group) OwnsTarget(targetID string) bool {
	if g == nil || targetID == "" {
		return false
	}
	if g.Device != nil && g.Device.DeviceID == targetID {
		return true
	}
	if g.Docker != nil && g.Docker.DockerID == targetID {
		return true
	}
	return false
}

// MergeDPs merges raw datapoints into the device or docker owning the
// given target id, last write wins per DP id. It reports whether
// anything was stored.
func (g *Group) MergeDPs(targetID string, dps []DP) bool {
	if g == nil || len(dps) == 0 {
		return false
	}

	var into *map[string]DP
	switch {
	case g.Docker != nil && g.Docker.DockerID == targetID:
		into = &g.Docker.DPs
	case g.Device != nil && g.Device.DeviceID == targetID:
		into = &g.Device.DPs
	default:
		return false
	}

	if *into == nil {
		*into = make(map[string]DP, len(dps))
	}
	for _, dp := range dps {
		(*into)[dp.Key()] = dp
	}
	return true
}

// DisplayName returns a friendly name for the group: the first
// non-blank of the device name, docker BLE name, and group name, else
// a fixed fallback.
func (g *Group) DisplayName() string {
	if g == nil {
		return "WyBot"
	}

	var candidates []string
	if g.Device != nil {
		candidates = append(candidates, g.Device.DeviceName, g.Device.BLEName)
	}
	if g.Docker != nil {
		candidates = append(candidates, g.Docker.BLEName)
	}
	candidates = append(candidates, g.Name)

	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return "WyBot"
}

// Clone returns a deep copy of the group, so snapshot readers never
// alias the maps the coordinator mutates.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	out := *g
	if g.Device != nil {
		dev := *g.Device
		dev.DPs = cloneDPs(g.Device.DPs)
		if g.Device.Version != nil {
			v := *g.Device.Version
			dev.Version = &v
		}
		out.Device = &dev
	}
	if g.Docker != nil {
		dock := *g.Docker
		dock.DPs = cloneDPs(g.Docker.DPs)
		out.Docker = &dock
	}
	return &out
}

func cloneDPs(in map[string]DP) map[string]DP {
	if in == nil {
		return nil
	}
	out := make(map[string]DP, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
