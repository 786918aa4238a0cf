// Package wsrelay lets agents in separate processes negotiate through a
// WebSocket relay.
//
// The relay is a topic fan-out hub. A client holds one connection, asks the
// relay to subscribe it to topics and publishes payloads; the relay
// forwards each published payload to every connection subscribed to the
// topic. Frames are JSON objects:
//
//	{"type":"subscribe","topic":"acp0/intents","id":"<subscription id>"}
//	{"type":"subscribed","id":"<subscription id>"}
//	{"type":"unsubscribe","topic":"acp0/intents","id":"<subscription id>"}
//	{"type":"publish","topic":"acp0/intents","payload":{...}}
//	{"type":"message","topic":"acp0/intents","payload":{...}}
package wsrelay

import (
	"encoding/json"
	"time"
)

const (
	frameSubscribe   = "subscribe"
	frameSubscribed  = "subscribed"
	frameUnsubscribe = "unsubscribe"
	framePublish     = "publish"
	frameMessage     = "message"
	frameError       = "error"
)

const (
	defaultSendCapacity = 100
	defaultWriteWait    = 10 * time.Second
	defaultReadWait     = 60 * time.Second
	// must be less than the read wait
	defaultPingPeriod = (defaultReadWait * 9) / 10

	// DefaultPath is where the relay accepts WebSocket connections.
	DefaultPath = "/ws"
)

type frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
