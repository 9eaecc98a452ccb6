package transport

import "strings"

// Topic prefixes used by the WyBot broker. Every per-target topic is
// the prefix followed by the target id.
const (
	topicWillPrefix        = "/will/"
	topicDataPrefix        = "/device/DATA/send_transparent_data/"
	topicQueryEchoPrefix   = "/device/DATA/recv_transparent_query_data/"
	topicCmdEchoPrefix     = "/device/DATA/recv_transparent_cmd_data/"
	topicOTAProgressPrefix = "/device/OTA/post_update_progress/"
	topicOTAReadyPrefix    = "/device/OTA/notify_ready_to_update/"
)

// FrameKind classifies an inbound frame by its topic.
type FrameKind string

const (
	// KindWill is a presence signal; the payload is free-form text, not JSON.
	KindWill FrameKind = "will"

	// KindData carries DP values reported by a target. The payload is a
	// JSON command envelope and is the only frame kind merged into state.
	KindData FrameKind = "data"

	// KindQueryEcho is the broker echoing a status query back.
	KindQueryEcho FrameKind = "query_echo"

	// KindCmdEcho is the broker echoing a write command back.
	KindCmdEcho FrameKind = "cmd_echo"

	// KindOTA covers firmware update progress and readiness topics.
	// Counted as traffic for freshness tracking only.
	KindOTA FrameKind = "ota"

	// KindUnknown is a topic outside the known WyBot shapes.
	KindUnknown FrameKind = "unknown"
)

// WillTopic returns the presence topic for a target.
func WillTopic(targetID string) string {
	return topicWillPrefix + targetID
}

// DataTopic returns the topic a target reports DP values on.
func DataTopic(targetID string) string {
	return topicDataPrefix + targetID
}

// QueryTopic returns the topic status queries are published to.
func QueryTopic(targetID string) string {
	return topicQueryEchoPrefix + targetID
}

// CommandTopic returns the topic write commands are published to.
func CommandTopic(targetID string) string {
	return topicCmdEchoPrefix + targetID
}

// TargetTopics returns the full topic set subscribed per target.
func TargetTopics(targetID string) []string {
	return []string{
		topicWillPrefix + targetID,
		topicDataPrefix + targetID,
		topicQueryEchoPrefix + targetID,
		topicCmdEchoPrefix + targetID,
		topicOTAProgressPrefix + targetID,
		topicOTAReadyPrefix + targetID,
	}
}

// Classify derives the frame kind and target id from a topic by
// stripping the known prefixes. Unknown topics yield KindUnknown and
// a best-effort target id from the last path segment.
func Classify(topic string) (FrameKind, string) {
	prefixes := []struct {
		prefix string
		kind   FrameKind
	}{
		{topicWillPrefix, KindWill},
		{topicDataPrefix, KindData},
		{topicQueryEchoPrefix, KindQueryEcho},
		{topicCmdEchoPrefix, KindCmdEcho},
		{topicOTAProgressPrefix, KindOTA},
		{topicOTAReadyPrefix, KindOTA},
	}

	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(topic, p.prefix); ok && rest != "" {
			return p.kind, rest
		}
	}

	if i := strings.LastIndexByte(topic, '/'); i >= 0 && i < len(topic)-1 {
		return KindUnknown, topic[i+1:]
	}
	return KindUnknown, ""
}
