package wybot

import "fmt"

// ModelWY460 start/stop codes differ from every other model: it
// expects 02 to start and 01 to stop, while the rest of the range
// uses 01/00. Return-to-dock is 03 everywhere.
const ModelWY460 = "WY460"

// Symbolic command actions accepted by Action.
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionDock  = "dock"
)

// CleanTimePresets are the clean-time durations the firmware accepts,
// in minutes. Requested durations are snapped to the nearest preset.
var CleanTimePresets = []int{60, 120, 180, 240}

const cleanTimeMaxMinutes = 255

// StatusTableFor selects the cleaning-status decode table for a
// device model.
func StatusTableFor(model string) StatusTable {
	if model == ModelWY460 {
		return StatusTableModern
	}
	return StatusTableLegacy
}

// cleaningAction builds a DP0 write carrying a single action byte.
func cleaningAction(code int) DP {
	return newDP(DPCleaningStatus, 4, 1, fmt.Sprintf("%02x", code))
}

// StartCommand builds the DP0 write that starts cleaning for the
// given model.
func StartCommand(model string) DP {
	if model == ModelWY460 {
		return cleaningAction(0x02)
	}
	return cleaningAction(0x01)
}

// StopCommand builds the DP0 write that stops cleaning for the given
// model.
func StopCommand(model string) DP {
	if model == ModelWY460 {
		return cleaningAction(0x01)
	}
	return cleaningAction(0x00)
}

// DockCommand builds the DP0 write that sends the device back to its
// dock.
func DockCommand() DP {
	return cleaningAction(0x03)
}

// Action maps a symbolic action name to its DP0 write for the given
// model. Unrecognised names return ErrUnknownAction.
func Action(name, model string) (DP, error) {
	switch name {
	case ActionStart:
		return StartCommand(model), nil
	case ActionStop:
		return StopCommand(model), nil
	case ActionDock:
		return DockCommand(), nil
	}
	return DP{}, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// ModeCommand builds the DP1 write selecting a cleaning mode by
// label.
func ModeCommand(label string) (DP, error) {
	return EncodeCleaningMode(label)
}

// SnapCleanMinutes snaps a requested duration to the nearest allowed
// preset. Ties between two presets resolve to the lower one, so the
// snap is deterministic (90 snaps to 60, not 120).
func SnapCleanMinutes(minutes int) int {
	best := CleanTimePresets[0]
	for _, p := range CleanTimePresets[1:] {
		if abs(p-minutes) < abs(best-minutes) {
			best = p
		}
	}
	return best
}

// CleanTimeCommand builds the DP15 write setting the clean-time
// duration. The value is snapped to the nearest preset; durations
// outside 1..255 minutes return ErrInvalidDuration.
func CleanTimeCommand(minutes int) (DP, error) {
	if minutes <= 0 || minutes > cleanTimeMaxMinutes {
		return DP{}, fmt.Errorf("%w: %d minutes", ErrInvalidDuration, minutes)
	}
	snapped := SnapCleanMinutes(minutes)
	return newDP(DPCleanTime, 2, 4, fmt.Sprintf("%02x000000", snapped)), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
