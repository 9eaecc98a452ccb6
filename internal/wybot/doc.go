// Package wybot implements the WyBot wire model: the datapoint (DP)
// hex codec, typed views of well-known DP ids, the command builder
// for outbound writes, and the Group/Device/Docker inventory model.
//
// Decoding is total: codes missing from a decode table map to the
// unknown variant of the relevant enumeration, never to an error.
// Command building is the opposite: unsupported mode labels or
// durations are rejected synchronously so a malformed payload is
// never put on the wire.
package wybot
