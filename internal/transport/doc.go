// Package transport adapts paho.mqtt.golang to the WyBot broker.
//
// It manages the per-target topic set (presence, data, query/command
// echoes and OTA notifications), restores subscriptions after a
// reconnect, and delivers every inbound frame to a single registered
// handler as (kind, target id, topic, payload). Frames are classified
// by topic prefix; payload decoding is the caller's concern.
//
// The broker is operated by the vendor: the client only subscribes
// and publishes to the vendor's fixed topic shapes and never
// announces its own presence.
package transport
