package wybot

import (
	"encoding/hex"
	"strconv"
)

// Wire opcodes carried in the envelope's cmd field.
const (
	// CmdWrite writes DP values to a device.
	CmdWrite = 4

	// CmdQueryResponse carries DP values reported by a device.
	CmdQueryResponse = 5

	// CmdQuery asks a device to report the listed DP ids.
	CmdQuery = 9
)

// Well-known DP ids.
const (
	DPCleaningStatus = 0
	DPCleaningMode   = 1
	DPDock           = 11
	DPCleanTime      = 15
	DPBattery        = 50
	DPTemperature    = 41
)

// queryDPIDs is the fixed set of DP ids requested by a status query.
var queryDPIDs = []int{DPCleaningStatus, DPCleaningMode, DPBattery, DPDock, DPTemperature}

// DP is a single wire-level datapoint.
//
// Type and Len are absent on query requests; Data is absent when a
// response item carries no value for the id. Data is a lowercase hex
// string without a 0x prefix (e.g. "03" or "3c000000").
type DP struct {
	ID   int    `json:"id"`
	Type *int   `json:"type,omitempty"`
	Len  *int   `json:"len,omitempty"`
	Data string `json:"data,omitempty"`
}

// HasData reports whether the DP carries a payload. Response items
// without data are request echoes and must not be merged into state.
func (d DP) HasData() bool {
	return d.Data != ""
}

// Key returns the string form of the DP id, used as the map key in
// the Device/Docker DP maps.
func (d DP) Key() string {
	return strconv.Itoa(d.ID)
}

// newDP builds a DP with type and len set.
func newDP(id, typ, length int, data string) DP {
	return DP{ID: id, Type: &typ, Len: &length, Data: data}
}

// Envelope is the JSON command envelope exchanged over MQTT.
type Envelope struct {
	TS  int64 `json:"ts"`
	Cmd int   `json:"cmd"`
	DP  []DP  `json:"dp"`
}

// NewWriteEnvelope wraps DP writes in an envelope. The timestamp is
// stamped per target at publish time, not here.
func NewWriteEnvelope(dps ...DP) Envelope {
	return Envelope{Cmd: CmdWrite, DP: dps}
}

// NewQueryEnvelope builds the fixed status query asking a device to
// report its current DP values.
func NewQueryEnvelope() Envelope {
	dps := make([]DP, 0, len(queryDPIDs))
	for _, id := range queryDPIDs {
		dps = append(dps, DP{ID: id})
	}
	return Envelope{Cmd: CmdQuery, DP: dps}
}

// DataDPs returns the envelope's DP entries that carry payload data.
func (e Envelope) DataDPs() []DP {
	out := make([]DP, 0, len(e.DP))
	for _, dp := range e.DP {
		if dp.HasData() {
			out = append(out, dp)
		}
	}
	return out
}

// hexToBytes decodes a hex payload, returning nil on malformed input.
// Firmware payloads are occasionally odd-length or garbled; decoding
// must tolerate that rather than fail the whole frame.
func hexToBytes(s string) []byte {
	if s == "" {
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return raw
}

// hexToInt parses a hex payload as an unsigned integer, returning
// def on empty or malformed input.
func hexToInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return def
	}
	return int(v)
}

// firstByte returns the first byte of the DP payload, falling back to
// parsing the whole payload as hex when it is shorter than one byte.
func firstByte(d DP, def int) int {
	if raw := hexToBytes(d.Data); len(raw) > 0 {
		return int(raw[0])
	}
	return hexToInt(d.Data, def)
}

// CodeByte returns the leading code byte of a DP payload. ok is false
// when the payload is empty or unparsable.
func CodeByte(d DP) (code int, ok bool) {
	v := firstByte(d, -1)
	return v, v >= 0
}
