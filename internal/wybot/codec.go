package wybot

import "fmt"

// StatusTable selects which cleaning-status decode table applies.
//
// Two firmware families report DP0 differently and the maps conflict
// (code 01 is "docked" on one and "stopped" on the other), so the
// tables are kept separate and chosen per device model.
type StatusTable int

const (
	// StatusTableModern is the six-valued map used by the WY460 family.
	StatusTableModern StatusTable = iota

	// StatusTableLegacy is the three-valued map used by older models.
	StatusTableLegacy
)

// CleaningState is the decoded cleaning status of a device.
type CleaningState string

const (
	CleaningUnknown   CleaningState = "unknown"
	CleaningStopped   CleaningState = "stopped"
	CleaningDocked    CleaningState = "docked"
	CleaningCleaning  CleaningState = "cleaning"
	CleaningReturning CleaningState = "returning"
	CleaningPaused    CleaningState = "paused"
	CleaningStarting  CleaningState = "starting"
	CleaningError     CleaningState = "error"
)

var statusCodesModern = map[int]CleaningState{
	0x00: CleaningStopped,
	0x01: CleaningDocked,
	0x02: CleaningCleaning,
	0x03: CleaningReturning,
	0x04: CleaningPaused,
	0x05: CleaningError,
}

var statusCodesLegacy = map[int]CleaningState{
	0x01: CleaningStopped,
	0x03: CleaningCleaning,
	0xff: CleaningStarting,
}

// CleaningStatus is the typed view of DP0.
type CleaningStatus struct {
	State   CleaningState
	RawCode int
}

// DecodeCleaningStatus decodes DP0 using the given table. Codes
// missing from the table decode to CleaningUnknown.
func DecodeCleaningStatus(dp DP, table StatusTable) CleaningStatus {
	code := firstByte(dp, 0)
	codes := statusCodesModern
	if table == StatusTableLegacy {
		codes = statusCodesLegacy
	}
	state, ok := codes[code]
	if !ok {
		state = CleaningUnknown
	}
	return CleaningStatus{State: state, RawCode: code}
}

// EncodeCleaningStatus builds the DP0 payload for a cleaning state in
// the given table. States with no code in the table (including
// CleaningUnknown) return ErrNotEncodable.
func EncodeCleaningStatus(state CleaningState, table StatusTable) (DP, error) {
	codes := statusCodesModern
	if table == StatusTableLegacy {
		codes = statusCodesLegacy
	}
	for code, s := range codes {
		if s == state {
			return newDP(DPCleaningStatus, 4, 1, fmt.Sprintf("%02x", code)), nil
		}
	}
	return DP{}, fmt.Errorf("%w: cleaning state %q", ErrNotEncodable, state)
}

// Cleaning mode labels as shown to operators. ModeLabels is the
// stable presentation order for option lists.
const (
	ModeFloorOnly        = "Floor Only"
	ModeWallOnly         = "Wall Only"
	ModeStandardFullPool = "Standard Full Pool"
	ModeWaterlineOnly    = "Waterline Only"
)

var ModeLabels = []string{ModeFloorOnly, ModeWallOnly, ModeStandardFullPool, ModeWaterlineOnly}

// 0x0e is a firmware alias for Standard Full Pool, decode only.
var modeCodeToLabel = map[int]string{
	0x00: ModeFloorOnly,
	0x01: ModeWallOnly,
	0x03: ModeStandardFullPool,
	0x04: ModeWaterlineOnly,
	0x0e: ModeStandardFullPool,
}

var modeLabelToCode = map[string]int{
	ModeFloorOnly:        0x00,
	ModeWallOnly:         0x01,
	ModeStandardFullPool: 0x03,
	ModeWaterlineOnly:    0x04,
}

// CleaningMode is the typed view of DP1. Label is a synthesized
// "Mode XX" string for codes missing from the table.
type CleaningMode struct {
	Label   string
	RawCode int
	Known   bool
}

// DecodeCleaningMode decodes DP1 into a mode label.
func DecodeCleaningMode(dp DP) CleaningMode {
	code := firstByte(dp, 0)
	label, ok := modeCodeToLabel[code]
	if !ok {
		label = fmt.Sprintf("Mode %02X", code)
	}
	return CleaningMode{Label: label, RawCode: code, Known: ok}
}

// EncodeCleaningMode builds the DP1 payload for a mode label.
// Unrecognised labels return ErrUnknownMode.
func EncodeCleaningMode(label string) (DP, error) {
	code, ok := modeLabelToCode[label]
	if !ok {
		return DP{}, fmt.Errorf("%w: %q", ErrUnknownMode, label)
	}
	return newDP(DPCleaningMode, 4, 1, fmt.Sprintf("%02x", code)), nil
}

// ModeCodeFromHex returns the raw mode code of a DP1 payload, for
// read-back without a full decode. Returns -1 on empty input.
func ModeCodeFromHex(data string) int {
	if data == "" {
		return -1
	}
	return firstByte(DP{Data: data}, -1)
}

// DockState is the decoded dock status of DP11.
type DockState string

const (
	DockUnknown  DockState = "unknown"
	DockGeneral  DockState = "general"
	DockDocked   DockState = "docked"
	DockUndocked DockState = "undocked"
	DockError    DockState = "error"
)

var dockCodes = map[int]DockState{
	0x00: DockUnknown,
	0x01: DockGeneral,
	0x02: DockDocked,
	0x03: DockUndocked,
	0x04: DockError,
}

// Dock is the typed view of DP11.
type Dock struct {
	State   DockState
	RawCode int
}

// DecodeDock decodes DP11. Codes missing from the table decode to
// DockUnknown.
func DecodeDock(dp DP) Dock {
	code := firstByte(dp, 0)
	state, ok := dockCodes[code]
	if !ok {
		state = DockUnknown
	}
	return Dock{State: state, RawCode: code}
}

// EncodeDock builds the DP11 payload for a dock state.
func EncodeDock(state DockState) (DP, error) {
	for code, s := range dockCodes {
		if s == state {
			return newDP(DPDock, 4, 1, fmt.Sprintf("%02x", code)), nil
		}
	}
	return DP{}, fmt.Errorf("%w: dock state %q", ErrNotEncodable, state)
}

// BatteryState is the decoded charge state of DP50 byte 0.
type BatteryState string

const (
	BatteryUnknown     BatteryState = "unknown"
	BatteryDischarging BatteryState = "discharging"
	BatteryCharging    BatteryState = "charging"
	BatteryFull        BatteryState = "full"
)

var batteryStateCodes = map[int]BatteryState{
	0x00: BatteryUnknown,
	0x01: BatteryDischarging,
	0x02: BatteryCharging,
	0x03: BatteryFull,
}

// Battery is the typed view of DP50. Level is -1 when no usable
// charge level was present (wall-powered models report 0/0 or omit
// the level byte).
type Battery struct {
	State        BatteryState
	Level        int
	RawStateCode int
}

// DecodeBattery decodes DP50: byte 0 is the charge-state code, byte 1
// the level 0-100. Payloads shorter than two bytes fall back to
// reading the whole payload as a bare percentage.
func DecodeBattery(dp DP) Battery {
	raw := hexToBytes(dp.Data)

	out := Battery{State: BatteryUnknown, Level: -1}
	if len(raw) >= 2 {
		out.RawStateCode = int(raw[0])
		if s, ok := batteryStateCodes[out.RawStateCode]; ok {
			out.State = s
		}
		if lvl := int(raw[1]); lvl <= 100 {
			out.Level = lvl
		}
		return out
	}

	if v := hexToInt(dp.Data, -1); v >= 0 && v <= 100 {
		out.Level = v
	}
	return out
}

// CleanTimeMinutesFromHex returns the minute count of a DP15 payload
// (byte 0 of the four-byte little-end payload), or -1 when absent.
func CleanTimeMinutesFromHex(data string) int {
	raw := hexToBytes(data)
	if len(raw) == 0 {
		return -1
	}
	return int(raw[0])
}
